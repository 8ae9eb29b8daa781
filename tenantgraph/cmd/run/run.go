/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package run

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/afreakk/tenantgraph/dgraphapi"
	"github.com/afreakk/tenantgraph/gqlschema"
	"github.com/afreakk/tenantgraph/harness"
	"github.com/afreakk/tenantgraph/scenarios"
	"github.com/afreakk/tenantgraph/x"
)

// Run is the sub-command invoked when running "tenantgraph run".
var Run x.SubCommand

const defaultTokenTTL = 5 * time.Minute

func init() {
	Run.Cmd = &cobra.Command{
		Use:   "run",
		Short: "Run the scenarios against a Dgraph cluster",
		Long: `Run wipes the data of the cluster, applies the type definitions and
runs every scenario in order. It exits non-zero if any scenario fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.OutOrStdout())
		},
		Annotations: map[string]string{"group": "default"},
	}
	Run.EnvPrefix = x.EnvPrefix

	flag := Run.Cmd.Flags()
	flag.String("scenarios", "",
		"Directory of *.yaml scenarios. The built-in scenarios run when empty.")
	flag.StringSliceP("only", "o", nil, "Run only the scenarios with these names.")
	flag.String("otlp_endpoint", "", "OTLP/HTTP endpoint (host:port) receiving traces.")
	flag.String("pushgateway", "", "Prometheus Pushgateway URL receiving run metrics.")
	flag.Duration("token_ttl", defaultTokenTTL, "Lifetime of the JWTs sent with each step.")
}

func loadScenarios(dir string) ([]*harness.Scenario, error) {
	if dir == "" {
		return scenarios.Builtin()
	}
	return harness.LoadScenarioDir(dir)
}

func run(out io.Writer) error {
	opts, err := x.LoadOptions(Run.Conf)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := x.InitTracing(ctx, Run.Conf.GetString("otlp_endpoint"))
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			glog.Warningf("Error while flushing traces: %v", err)
		}
	}()
	reg, err := x.NewMetricsRegistry()
	if err != nil {
		return err
	}

	sch, err := gqlschema.LoadTenantSchema(opts)
	if err != nil {
		return err
	}
	all, err := loadScenarios(Run.Conf.GetString("scenarios"))
	if err != nil {
		return err
	}
	only := Run.GetStringSliceP("only", "o", nil)
	selected := scenarios.Select(all, only)
	if len(selected) == 0 {
		return errors.Errorf("no scenario is named %v", only)
	}

	cluster, err := dgraphapi.Connect(ctx, opts)
	if err != nil {
		return errors.Wrap(err, "while connecting to the cluster")
	}
	defer func() {
		if err := cluster.Close(); err != nil {
			glog.Warningf("Error while closing the connection: %v", err)
		}
	}()

	r := &harness.Runner{
		Exec: &harness.DgraphExecutor{
			Client:   cluster.HTTP,
			Auth:     sch.Auth,
			TokenTTL: Run.GetDurationP("token_ttl", "", defaultTokenTTL),
		},
		DB:     cluster,
		Schema: sch,
	}
	results, runErr := r.Run(ctx, selected)
	failed := printResults(out, results)

	if err := x.PushMetrics(Run.Conf.GetString("pushgateway"), reg); err != nil {
		glog.Warningf("%v", err)
	}
	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return errors.Errorf("%d of %d scenarios failed", failed, len(results))
	}
	return nil
}

func printResults(w io.Writer, results []*harness.Result) int {
	var failed int
	for _, res := range results {
		status := "PASS"
		if res.Failed() {
			status = "FAIL"
			failed++
		}
		fmt.Fprintf(w, "%s %s (user %s)\n", status, res.Scenario, res.UserID)
		for _, st := range res.Steps {
			mark := "ok"
			if st.Err != nil {
				mark = "error: " + st.Err.Error()
			}
			fmt.Fprintf(w, "    %-50s %8s  %s\n", st.Name, st.Took.Round(time.Millisecond), mark)
		}
	}
	return failed
}
