// Package metrics defines the Prometheus metrics exported by the feedrelay
// binaries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrelay_connection_events_total",
			Help: "Number of connection state changes, by component and event.",
		},
		[]string{"component", "event"},
	)
	BackoffSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedrelay_backoff_seconds",
			Help: "Most recent reconnection delay, by component.",
		},
		[]string{"component"},
	)
	DecodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrelay_decode_failures_total",
			Help: "Number of frames skipped because they could not be decoded.",
		},
		[]string{"component"},
	)
	RelayDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedrelay_relay_dropped_total",
			Help: "Number of envelopes dropped from a full relay queue.",
		},
	)
	RelaySent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedrelay_relay_sent_total",
			Help: "Number of envelopes written to the relay connection.",
		},
	)
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrelay_deliveries_total",
			Help: "Number of envelopes recorded by the collector, by mode.",
		},
		[]string{"mode"},
	)
	LatencyMS = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "feedrelay_latency_ms",
			Help: "Histogram of measured latencies in milliseconds.",
			Buckets: []float64{
				1, 2, 5, 10, 15, 20, 30, 40, 50, 75,
				100, 125, 150, 175, 200, 250, 300, 400, 500,
				750, 1000, 2000, 5000},
		},
		[]string{"mode", "kind"},
	)
	WindowSamples = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedrelay_window_samples",
			Help: "Sample count of the last closed collection window.",
		},
	)
)
