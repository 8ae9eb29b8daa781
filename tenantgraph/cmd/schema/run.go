/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package schema

import (
	"context"
	"fmt"
	"io"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/afreakk/tenantgraph/dgraphapi"
	"github.com/afreakk/tenantgraph/gqlschema"
	"github.com/afreakk/tenantgraph/x"
)

// Schema is the sub-command invoked when running "tenantgraph schema".
var Schema x.SubCommand

func init() {
	Schema.Cmd = &cobra.Command{
		Use:   "schema",
		Short: "Validate the type definitions and apply them to the cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout())
		},
		Annotations: map[string]string{"group": "default"},
	}
	Schema.EnvPrefix = x.EnvPrefix

	flag := Schema.Cmd.Flags()
	flag.Bool("dry_run", false, "Only validate the type definitions.")
}

func run(ctx context.Context, out io.Writer) error {
	opts, err := x.LoadOptions(Schema.Conf)
	if err != nil {
		return err
	}
	sch, err := gqlschema.LoadTenantSchema(opts)
	if err != nil {
		return err
	}
	describe(out, sch)
	if Schema.GetBoolP("dry_run", "", false) {
		return nil
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
	if err := cluster.ApplySchema(ctx, sch.Source); err != nil {
		return err
	}
	fmt.Fprintf(out, "Applied schema to %s\n", opts.HTTPAddr)
	return nil
}

func describe(out io.Writer, sch *gqlschema.Schema) {
	fmt.Fprintf(out, "%d types\n", len(sch.Types))
	for _, e := range sch.Edges() {
		fmt.Fprintf(out, "    %s.%s -> %s\n", e.From, e.Field, e.To)
	}
	if sch.Auth == nil {
		fmt.Fprintln(out, "No authorization line")
		return
	}
	fmt.Fprintf(out, "JWT in header %s, claims under %s, signed with %s\n",
		sch.Auth.Header, sch.Auth.Namespace, sch.Auth.Algo)
}
