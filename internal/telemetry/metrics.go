/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes prometheus metrics for the player and library.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the process collectors.
type Metrics struct {
	registry *prometheus.Registry

	TrackChanges   prometheus.Counter
	GraphRebuilds  prometheus.Counter
	GraphFailures  prometheus.Counter
	WrapConflicts  prometheus.Counter
	BlockedPlays   prometheus.Counter
	TracksIndexed  prometheus.Gauge
	ScanDuration   prometheus.Histogram
	StreamedBytes  prometheus.Counter
	ActiveStreams  prometheus.Gauge
	StateClients   prometheus.Gauge

	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ActiveConnections prometheus.Gauge
}

// New registers the bassline collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TrackChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "bassline_track_changes_total",
			Help: "Track changes requested by intents or end-of-track handling.",
		}),
		GraphRebuilds: factory.NewCounter(prometheus.CounterOpts{
			Name: "bassline_graph_rebuilds_total",
			Help: "Analysis graph create operations.",
		}),
		GraphFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "bassline_graph_failures_total",
			Help: "Analysis graph builds that ended in the failed state.",
		}),
		WrapConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "bassline_wrap_conflicts_total",
			Help: "Media source wrap conflicts recovered by close-and-retry.",
		}),
		BlockedPlays: factory.NewCounter(prometheus.CounterOpts{
			Name: "bassline_blocked_plays_total",
			Help: "Play attempts rejected pending user interaction.",
		}),
		TracksIndexed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bassline_library_tracks",
			Help: "Tracks currently indexed in the library.",
		}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bassline_library_scan_duration_seconds",
			Help:    "Duration of full library scans.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		StreamedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "bassline_streamed_bytes_total",
			Help: "Bytes served by the range-request stream endpoint.",
		}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bassline_active_streams",
			Help: "Stream requests currently being served.",
		}),
		StateClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bassline_state_ws_clients",
			Help: "Websocket clients subscribed to player state.",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bassline_http_requests_total",
			Help: "HTTP requests by method, endpoint, and status.",
		}, []string{"method", "endpoint", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bassline_http_request_duration_seconds",
			Help:    "HTTP request latency by method, endpoint, and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint", "status"}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bassline_http_active_connections",
			Help: "HTTP requests currently in flight.",
		}),
	}
}

// Handler exposes the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
