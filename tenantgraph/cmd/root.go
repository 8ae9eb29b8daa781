/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package cmd

import (
	goflag "flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/afreakk/tenantgraph/tenantgraph/cmd/run"
	"github.com/afreakk/tenantgraph/tenantgraph/cmd/schema"
	"github.com/afreakk/tenantgraph/tenantgraph/cmd/token"
	"github.com/afreakk/tenantgraph/tenantgraph/cmd/wipe"
	"github.com/afreakk/tenantgraph/x"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "tenantgraph",
	Short: "tenantgraph: scenario runner for the tenant GraphQL model",
	Long: `
tenantgraph applies the tenant type definitions to a Dgraph cluster, wipes its
data and runs ordered GraphQL scenarios against the generated API. Each step runs
with a signed JWT and may hand ids it created to the steps after it.
`,
	PersistentPreRunE: cobra.NoArgs,
	SilenceUsage:      true,
}

var subcommands = []*x.SubCommand{
	&run.Run, &wipe.Wipe, &schema.Schema, &token.Token,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Keeps glog from complaining that flags were not parsed.
	x.Check(goflag.CommandLine.Parse([]string{}))
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var rootConf = viper.New()

func init() {
	RootCmd.PersistentFlags().String("config", "",
		"Configuration file. Takes precedence over default values, but is "+
			"overridden to values set with environment variables and flags.")
	x.FillConnectionFlags(RootCmd.PersistentFlags())
	x.Check(rootConf.BindPFlags(RootCmd.PersistentFlags()))

	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)

	for _, sc := range subcommands {
		RootCmd.AddCommand(sc.Cmd)
		sc.Conf = viper.New()
		x.Check(sc.Conf.BindPFlags(sc.Cmd.Flags()))
		x.Check(sc.Conf.BindPFlags(RootCmd.PersistentFlags()))
		sc.Conf.AutomaticEnv()
		sc.Conf.SetEnvPrefix(sc.EnvPrefix)
	}
	cobra.OnInitialize(func() {
		cfg := rootConf.GetString("config")
		if cfg == "" {
			return
		}
		for _, sc := range subcommands {
			sc.Conf.SetConfigFile(cfg)
			x.Checkf(sc.Conf.ReadInConfig(), "reading config %s", cfg)
		}
	})
}
