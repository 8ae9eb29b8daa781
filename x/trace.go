/*
 * SPDX-FileCopyrightText: © Hypermode Inc. <hello@hypermode.com>
 * SPDX-License-Identifier: Apache-2.0
 */

package x

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tenantgraph"

// Tracer returns the tracer used across the module. Until InitTracing installs a
// provider it is a no-op.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTracing installs an OTLP/HTTP exporter sending to endpoint (host:port).
// An empty endpoint leaves tracing disabled. The returned func flushes and stops
// the provider.
func InitTracing(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure())
	if err != nil {
		return nil, errors.Wrapf(err, "while creating otlp exporter for %s", endpoint)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", tracerName))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
