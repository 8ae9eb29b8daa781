/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package dgraphapi

import (
	"context"
	"encoding/json"

	"github.com/dgraph-io/dgo/v250"
	"github.com/dgraph-io/dgo/v250/protos/api"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// GrpcClient wraps a dgo client together with the connection it owns.
type GrpcClient struct {
	*dgo.Dgraph
	conn *grpc.ClientConn
}

// DialGrpc connects to the alpha at addr and, when user is set, logs in.
func DialGrpc(ctx context.Context, addr, user, password string) (*GrpcClient, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()))
	if err != nil {
		return nil, errors.Wrapf(err, "while dialing %s", addr)
	}
	gc := &GrpcClient{
		Dgraph: dgo.NewDgraphClient(api.NewDgraphClient(conn)),
		conn:   conn,
	}
	if user != "" {
		if err := gc.Login(ctx, user, password); err != nil {
			_ = conn.Close()
			return nil, errors.Wrapf(err, "while logging in as %s", user)
		}
	}
	glog.Infof("Connected to Dgraph alpha at %s", addr)
	return gc, nil
}

// Close closes the underlying connection.
func (gc *GrpcClient) Close() error {
	return gc.conn.Close()
}

// DropData removes every node and edge but keeps the schema, GraphQL schema included.
func (gc *GrpcClient) DropData(ctx context.Context) error {
	return errors.Wrap(gc.Alter(ctx, &api.Operation{DropOp: api.Operation_DATA}),
		"while dropping data")
}

// DropAll drops all the data and the schema.
func (gc *GrpcClient) DropAll(ctx context.Context) error {
	return errors.Wrap(gc.Alter(ctx, &api.Operation{DropAll: true}), "while dropping all")
}

// CountNodes returns the number of typed nodes in the store.
func (gc *GrpcClient) CountNodes(ctx context.Context) (int, error) {
	const q = `{ q(func: has(dgraph.type)) { count(uid) } }`
	txn := gc.NewReadOnlyTxn()
	defer func() { _ = txn.Discard(ctx) }()

	resp, err := txn.Query(ctx, q)
	if err != nil {
		return 0, errors.Wrap(err, "while counting nodes")
	}
	var r struct {
		Q []struct {
			Count int `json:"count"`
		} `json:"q"`
	}
	if err := json.Unmarshal(resp.GetJson(), &r); err != nil {
		return 0, errors.Wrap(err, "error unmarshalling count response")
	}
	if len(r.Q) == 0 {
		return 0, nil
	}
	return r.Q[0].Count, nil
}
