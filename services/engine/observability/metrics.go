// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the engine.
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "statengine"

const comsSubsystem = "coms"

// Metrics holds the engine's Prometheus metrics. Initialize once at
// startup via InitMetrics; registering twice panics on duplicate
// registration.
type Metrics struct {
	// RequestsTotal counts protocol requests.
	// Labels: payload_type, status (complete, error)
	RequestsTotal *prometheus.CounterVec

	// ActiveAnalyses tracks analyses currently in status Running or
	// Rendering.
	ActiveAnalyses prometheus.Gauge

	// AnalysisDurationSeconds measures wall time from RUN accepted to
	// the terminal response. Labels: ns, status (complete, error)
	AnalysisDurationSeconds *prometheus.HistogramVec

	// DatasetOpsTotal counts dataset operations.
	// Labels: op (GET, SET, DEL_ROWS, ...), status (complete, error)
	DatasetOpsTotal *prometheus.CounterVec

	// ActiveConnections tracks open websocket connections.
	ActiveConnections prometheus.Gauge
}

// DefaultMetrics is set by InitMetrics.
var DefaultMetrics *Metrics

// InitMetrics creates and registers the engine metrics on the default
// registry.
func InitMetrics() *Metrics {
	DefaultMetrics = &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: comsSubsystem,
				Name:      "requests_total",
				Help:      "Total protocol requests by payload type and outcome",
			},
			[]string{"payload_type", "status"},
		),

		ActiveAnalyses: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: comsSubsystem,
				Name:      "active_analyses",
				Help:      "Analyses currently running or rendering",
			},
		),

		AnalysisDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: comsSubsystem,
				Name:      "analysis_duration_seconds",
				Help:      "Wall time from accepted RUN to terminal response",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"ns", "status"},
		),

		DatasetOpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: comsSubsystem,
				Name:      "dataset_ops_total",
				Help:      "Dataset operations by op code and outcome",
			},
			[]string{"op", "status"},
		),

		ActiveConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: comsSubsystem,
				Name:      "websocket_connections",
				Help:      "Open websocket connections",
			},
		),
	}
	return DefaultMetrics
}
