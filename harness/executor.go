/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package harness

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/afreakk/tenantgraph/auth"
	"github.com/afreakk/tenantgraph/dgraphapi"
)

// Operation is a GraphQL document with its variables.
type Operation struct {
	Name      string
	Query     string
	Variables map[string]interface{}
}

// Context is the per-request authorization context. A nil JWT is an anonymous request.
type Context struct {
	JWT *auth.JWT
}

// Executor runs one operation and returns the full GraphQL response. GraphQL
// errors belong in the response; the error is for transport failures.
type Executor interface {
	Execute(ctx context.Context, op Operation, rc Context) (*dgraphapi.GraphQLResponse, error)
}

// Database is the store the scenarios run against.
type Database interface {
	// Wipe removes every node and relationship.
	Wipe(ctx context.Context) error
	// ApplySchema serves the type definitions sch on the GraphQL endpoint.
	ApplySchema(ctx context.Context, sch string) error
}

// DgraphExecutor sends operations to a Dgraph /graphql endpoint, turning the
// jwt context into a signed token in the header named by the schema.
type DgraphExecutor struct {
	Client *dgraphapi.HTTPClient
	Auth   *auth.Meta
	// TokenTTL is the lifetime of minted tokens. Zero means five minutes.
	TokenTTL time.Duration
}

func (e *DgraphExecutor) Execute(ctx context.Context, op Operation,
	rc Context) (*dgraphapi.GraphQLResponse, error) {

	header := make(http.Header)
	if rc.JWT != nil {
		if e.Auth == nil {
			return nil, errors.Errorf("cannot send a jwt: schema has no authorization line")
		}
		ttl := e.TokenTTL
		if ttl == 0 {
			ttl = 5 * time.Minute
		}
		var err error
		if header, err = e.Auth.HTTPHeader(rc.JWT, ttl); err != nil {
			return nil, err
		}
	}
	return e.Client.Execute(ctx, dgraphapi.GraphQLParams{
		Query:         op.Query,
		OperationName: op.Name,
		Variables:     op.Variables,
	}, header)
}
