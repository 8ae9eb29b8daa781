/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package token

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/afreakk/tenantgraph/auth"
	"github.com/afreakk/tenantgraph/gqlschema"
	"github.com/afreakk/tenantgraph/x"
)

// Token is the sub-command invoked when running "tenantgraph token".
var Token x.SubCommand

func init() {
	Token.Cmd = &cobra.Command{
		Use:   "token",
		Short: "Print a signed JWT for the schema's authorization line",
		Long: `Token prints the header a step with the given jwt context would send,
ready to paste into curl.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.OutOrStdout())
		},
		Annotations: map[string]string{"group": "tool"},
	}
	Token.EnvPrefix = x.EnvPrefix

	flag := Token.Cmd.Flags()
	flag.String("id", "", "User id carried in the claims.")
	flag.StringSlice("roles", nil, "Roles carried in the claims.")
	flag.Duration("ttl", time.Hour, "Lifetime of the token. Zero means no expiry.")
	flag.String("private_key", "", "PEM file with the RSA key, for RS256 schemas.")
}

func run(out io.Writer) error {
	opts, err := x.LoadOptions(Token.Conf)
	if err != nil {
		return err
	}
	sch, err := gqlschema.LoadTenantSchema(opts)
	if err != nil {
		return err
	}
	if sch.Auth == nil {
		return errors.Errorf("%s has no authorization line", opts.SchemaPath)
	}
	meta := sch.Auth
	if path := Token.GetStringP("private_key", "", ""); path != "" {
		pem, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "while reading %s", path)
		}
		meta = meta.WithPrivateKey(pem)
	}

	id := Token.GetStringP("id", "", "")
	if id == "" {
		return errors.Errorf("--id must be set")
	}
	header, err := meta.HTTPHeader(&auth.JWT{
		ID:    id,
		Roles: Token.GetStringSliceP("roles", "", nil),
	}, Token.GetDurationP("ttl", "", time.Hour))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s\n", meta.Header, header.Get(meta.Header))
	return nil
}
