// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package jaeger initializes the OTLP trace provider.
package jaeger

import (
	"context"
	"net/url"

	"github.com/acsio/acs/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var (
	errNoURL     = errors.New("URL is empty")
	errNoSvcName = errors.New("service name is empty")
)

// NewProvider initializes an OTLP TracerProvider and installs it globally.
func NewProvider(ctx context.Context, svcName string, otelURL url.URL, instanceID string, fraction float64) (*tracesdk.TracerProvider, error) {
	if otelURL == (url.URL{}) {
		return nil, errNoURL
	}

	if svcName == "" {
		return nil, errNoSvcName
	}

	exporter, err := otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpoint(otelURL.Host),
		otlptracehttp.WithURLPath(otelURL.Path),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	attributes := []attribute.KeyValue{
		semconv.ServiceNameKey.String(svcName),
		semconv.ServiceInstanceIDKey.String(instanceID),
	}

	hostAttr, err := resource.New(ctx, resource.WithHost(), resource.WithOSDescription(), resource.WithContainer())
	if err != nil {
		return nil, err
	}
	attributes = append(attributes, hostAttr.Attributes()...)

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(fraction))),
		tracesdk.WithBatcher(exporter),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			attributes...,
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
