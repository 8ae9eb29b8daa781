/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package x

import (
	"context"
	"time"

	ocprom "contrib.go.opencensus.io/exporter/prometheus"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	// StepLatencyMs is the wall time of a single scenario step, request included.
	StepLatencyMs = stats.Float64("step_latency",
		"Latency of scenario steps", stats.UnitMilliseconds)
	// NumSteps counts executed steps.
	NumSteps = stats.Int64("steps_total",
		"Total number of scenario steps", stats.UnitDimensionless)
	// NumRequests counts GraphQL requests sent to the cluster.
	NumRequests = stats.Int64("graphql_requests_total",
		"Total number of GraphQL requests", stats.UnitDimensionless)

	// Tag keys here
	KeyScenario, _ = tag.NewKey("scenario")
	KeyStatus, _   = tag.NewKey("status")
	KeyEndpoint, _ = tag.NewKey("endpoint")

	// Tag values here
	TagValueStatusOK    = "ok"
	TagValueStatusError = "error"

	defaultLatencyMsDistribution = view.Distribution(
		0, 0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65,
		80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 5000, 10000, 20000,
		50000, 100000)

	allViews = []*view.View{
		{
			Name:        StepLatencyMs.Name(),
			Measure:     StepLatencyMs,
			Description: StepLatencyMs.Description(),
			Aggregation: defaultLatencyMsDistribution,
			TagKeys:     []tag.Key{KeyScenario, KeyStatus},
		},
		{
			Name:        NumSteps.Name(),
			Measure:     NumSteps,
			Description: NumSteps.Description(),
			Aggregation: view.Count(),
			TagKeys:     []tag.Key{KeyScenario, KeyStatus},
		},
		{
			Name:        NumRequests.Name(),
			Measure:     NumRequests,
			Description: NumRequests.Description(),
			Aggregation: view.Count(),
			TagKeys:     []tag.Key{KeyEndpoint, KeyStatus},
		},
	}
)

// RegisterViews registers the views of this package. It is safe to call more than once.
func RegisterViews() error {
	return errors.Wrap(view.Register(allViews...), "while registering metric views")
}

// RecordStep records the outcome of one step.
func RecordStep(ctx context.Context, scenario string, took time.Duration, err error) {
	status := TagValueStatusOK
	if err != nil {
		status = TagValueStatusError
	}
	ms := float64(took) / float64(time.Millisecond)
	Ignore(stats.RecordWithTags(ctx,
		[]tag.Mutator{tag.Upsert(KeyScenario, scenario), tag.Upsert(KeyStatus, status)},
		StepLatencyMs.M(ms), NumSteps.M(1)))
}

// RecordRequest records one request against the named endpoint.
func RecordRequest(ctx context.Context, endpoint string, err error) {
	status := TagValueStatusOK
	if err != nil {
		status = TagValueStatusError
	}
	Ignore(stats.RecordWithTags(ctx,
		[]tag.Mutator{tag.Upsert(KeyEndpoint, endpoint), tag.Upsert(KeyStatus, status)},
		NumRequests.M(1)))
}

// NewMetricsRegistry returns a prometheus registry that exposes the views of this package.
func NewMetricsRegistry() (*prometheus.Registry, error) {
	if err := RegisterViews(); err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	pe, err := ocprom.NewExporter(ocprom.Options{
		Namespace: "tenantgraph",
		Registry:  reg,
		OnError: func(err error) {
			glog.Errorf("Error in prometheus exporter: %v", err)
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "while creating prometheus exporter")
	}
	view.RegisterExporter(pe)
	return reg, nil
}

// PushMetrics pushes everything gathered by reg to a Pushgateway. A run of the
// harness is a batch job, so nothing is scraped from it.
func PushMetrics(gatewayURL string, reg *prometheus.Registry) error {
	if gatewayURL == "" {
		return nil
	}
	err := push.New(gatewayURL, "tenantgraph").Gatherer(reg).Push()
	return errors.Wrapf(err, "while pushing metrics to %s", gatewayURL)
}
