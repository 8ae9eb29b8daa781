/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package wipe

import (
	"context"
	"fmt"
	"io"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/afreakk/tenantgraph/dgraphapi"
	"github.com/afreakk/tenantgraph/x"
)

// Wipe is the sub-command invoked when running "tenantgraph wipe".
var Wipe x.SubCommand

func init() {
	Wipe.Cmd = &cobra.Command{
		Use:   "wipe",
		Short: "Remove every node and relationship from the cluster",
		Long: `Wipe drops all data and keeps the schema, so the GraphQL API keeps being
served. With --all the schema is dropped as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout())
		},
		Annotations: map[string]string{"group": "default"},
	}
	Wipe.EnvPrefix = x.EnvPrefix

	flag := Wipe.Cmd.Flags()
	flag.Bool("all", false, "Drop the schema too.")
}

func run(ctx context.Context, out io.Writer) error {
	opts, err := x.LoadOptions(Wipe.Conf)
	if err != nil {
		return err
	}
	cluster, err := dgraphapi.Connect(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := cluster.Close(); err != nil {
			glog.Warningf("Error while closing the connection: %v", err)
		}
	}()

	cluster.DropSchema = Wipe.GetBoolP("all", "", false)
	if err := cluster.Wipe(ctx); err != nil {
		return err
	}
	n, err := cluster.Grpc.CountNodes(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Wiped %s, %d nodes left\n", opts.DatabaseHost, n)
	return nil
}
