/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package x

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is prepended to every configuration key read from the environment,
	// e.g. TENANTGRAPH_DATABASE_HOST.
	EnvPrefix = "TENANTGRAPH"

	DefaultDatabaseHost = "localhost:9080"
	DefaultHTTPAddr     = "localhost:8080"
	DefaultSchemaPath   = "testdata/schema.graphql"
	DefaultTimeout      = 30 * time.Second
)

// Options stores the connection settings shared by every subcommand.
type Options struct {
	// DatabaseHost is the gRPC address of an alpha.
	DatabaseHost string
	// DatabaseUsername and DatabasePassword are ACL credentials. Both empty means
	// the cluster runs without ACL.
	DatabaseUsername string
	DatabasePassword Sensitive
	// HTTPAddr is the HTTP address of an alpha, serving /graphql and /admin.
	HTTPAddr string
	// SchemaPath points at the GraphQL type definitions.
	SchemaPath string
	// AuthKey overrides the VerificationKey of the schema's authorization line.
	AuthKey Sensitive
	// Timeout bounds every single request to the cluster.
	Timeout time.Duration
}

// Sensitive implements the Stringer interface to redact its contents.
// Use this type for sensitive info such as keys, passwords, or secrets so it doesn't leak
// as output such as logs.
type Sensitive []byte

func (Sensitive) String() string {
	return "****"
}

// FillConnectionFlags registers the flags backing Options.
func FillConnectionFlags(flag *pflag.FlagSet) {
	flag.String("database_host", DefaultDatabaseHost, "gRPC address of a Dgraph alpha.")
	flag.String("database_username", "", "ACL username used to log into the cluster.")
	flag.String("database_password", "", "ACL password used to log into the cluster.")
	flag.String("http_addr", DefaultHTTPAddr, "HTTP address of a Dgraph alpha.")
	flag.String("schema", DefaultSchemaPath, "Path to the GraphQL type definitions.")
	flag.String("auth_key", "",
		"HS256 verification key. Overrides the key in the schema's Dgraph.Authorization line.")
	flag.Duration("timeout", DefaultTimeout, "Timeout for a single request to the cluster.")
}

// LoadOptions reads Options out of conf, which is expected to have the flags from
// FillConnectionFlags bound and the environment enabled.
func LoadOptions(conf *viper.Viper) (Options, error) {
	opts := Options{
		DatabaseHost:     conf.GetString("database_host"),
		DatabaseUsername: conf.GetString("database_username"),
		DatabasePassword: Sensitive(conf.GetString("database_password")),
		HTTPAddr:         conf.GetString("http_addr"),
		SchemaPath:       conf.GetString("schema"),
		AuthKey:          Sensitive(conf.GetString("auth_key")),
		Timeout:          conf.GetDuration("timeout"),
	}
	if opts.DatabaseHost == "" {
		return opts, errors.Errorf("database_host must be set")
	}
	if opts.HTTPAddr == "" {
		return opts, errors.Errorf("http_addr must be set")
	}
	if (opts.DatabaseUsername == "") != (len(opts.DatabasePassword) == 0) {
		return opts, errors.Errorf("database_username and database_password must be set together")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return opts, nil
}
