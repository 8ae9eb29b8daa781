/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

// Package dgraphapi talks to a Dgraph cluster: gRPC for wiping the store, HTTP for
// the GraphQL and admin endpoints.
package dgraphapi

import (
	"context"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/afreakk/tenantgraph/x"
)

// Cluster is one process-wide handle on a Dgraph cluster. Open it once, pass it
// down, Close it on exit.
type Cluster struct {
	HTTP *HTTPClient
	Grpc *GrpcClient

	// DropSchema makes Wipe drop the schema too. The GraphQL schema must then be
	// applied again before any request.
	DropSchema bool
}

// Connect opens both connections described by opts.
func Connect(ctx context.Context, opts x.Options) (*Cluster, error) {
	gc, err := DialGrpc(ctx, opts.DatabaseHost, opts.DatabaseUsername,
		string(opts.DatabasePassword))
	if err != nil {
		return nil, err
	}
	hc := NewHTTPClient(opts.HTTPAddr, opts.Timeout)
	if opts.DatabaseUsername != "" {
		if err := hc.Login(ctx, opts.DatabaseUsername, string(opts.DatabasePassword)); err != nil {
			_ = gc.Close()
			return nil, errors.Wrap(err, "while logging into the admin endpoint")
		}
	}
	return &Cluster{HTTP: hc, Grpc: gc}, nil
}

// Wipe removes all nodes and relationships.
func (c *Cluster) Wipe(ctx context.Context) error {
	if c.DropSchema {
		return c.Grpc.DropAll(ctx)
	}
	if err := c.Grpc.DropData(ctx); err != nil {
		return err
	}
	glog.V(1).Infof("Dropped all data")
	return nil
}

// ApplySchema serves sch on the /graphql endpoint.
func (c *Cluster) ApplySchema(ctx context.Context, sch string) error {
	_, err := c.HTTP.ApplySchema(ctx, sch)
	return err
}

// Close releases the gRPC connection.
func (c *Cluster) Close() error {
	if c.Grpc == nil {
		return nil
	}
	return c.Grpc.Close()
}
