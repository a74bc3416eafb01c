// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package prometheus contains constructors for the service instrumentation.
// Dotted metric names from the monitoring contract map to underscores, since
// Prometheus forbids dots in metric names (acs.buffer.queue_depth is exported
// as acs_buffer_queue_depth).
package prometheus

import (
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const namespace = "acs"

// MakeMetrics returns an instance of Prometheus implementations for metrics.
// It returns a request counter and a request latency summary.
//
//	counter, latency := prometheus.MakeMetrics("access", "api")
func MakeMetrics(subsystem, svcName string) (*kitprometheus.Counter, *kitprometheus.Summary) {
	counter := kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "request_count",
		Help:        "Number of requests received.",
		ConstLabels: stdprometheus.Labels{"service": svcName},
	}, []string{"method"})
	latency := kitprometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Objectives:  map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		Name:        "request_latency_microseconds",
		Help:        "Total duration of requests in microseconds.",
		ConstLabels: stdprometheus.Labels{"service": svcName},
	}, []string{"method"})

	return counter, latency
}

// NewCounter registers and returns a counter under the acs namespace.
func NewCounter(subsystem, name, help string, labels ...string) *kitprometheus.Counter {
	return kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

// NewGauge registers and returns a gauge under the acs namespace.
func NewGauge(subsystem, name, help string, labels ...string) *kitprometheus.Gauge {
	return kitprometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

// NewHistogram registers and returns a histogram under the acs namespace.
func NewHistogram(subsystem, name, help string, labels ...string) *kitprometheus.Histogram {
	return kitprometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	}, labels)
}
