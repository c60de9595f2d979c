package model

import (
	"time"

	"github.com/m-lab/feedrelay/pkg/feedrelay/spec"
	"github.com/m-lab/feedrelay/pkg/version"
	"github.com/m-lab/go/prometheusx"
)

// HopSummary summarizes relay hop latencies. It is only present for
// relayed experiments.
type HopSummary struct {
	AvgLatencyMS    float64 `json:"avg_latency_ms"`
	MedianLatencyMS float64 `json:"median_latency_ms"`
}

// Summary is the aggregate result of one collection window. When
// SampleCount is zero every latency statistic is zero.
type Summary struct {
	Mode        spec.Mode `json:"mode"`
	SampleCount int       `json:"sample_count"`
	// EventsLost is the number of sequence ids missing between the lowest
	// and highest observed ids.
	EventsLost int `json:"events_lost"`
	// Duplicates is the number of envelopes discarded because their
	// sequence id had already been observed.
	Duplicates int `json:"duplicates"`

	AvgLatencyMS    float64 `json:"avg_latency_ms"`
	MedianLatencyMS float64 `json:"median_latency_ms"`
	P95LatencyMS    float64 `json:"p95_latency_ms"`
	P99LatencyMS    float64 `json:"p99_latency_ms"`
	MinLatencyMS    float64 `json:"min_latency_ms"`
	MaxLatencyMS    float64 `json:"max_latency_ms"`
	// JitterStddevMS is the population standard deviation of the
	// end-to-end latency.
	JitterStddevMS float64 `json:"jitter_stddev_ms"`

	// Backbone is nil in direct mode.
	Backbone *HopSummary `json:"backbone,omitempty"`
}

// WindowConfig describes how a collection window was bounded.
type WindowConfig struct {
	// DurationMS is the configured duration in milliseconds, or zero.
	DurationMS int64
	// Count is the configured sample threshold, or zero.
	Count int
}

// ArchivalData is the archival record of a feedrelay experiment.
type ArchivalData struct {
	// GitShortCommit is the Git commit (short form) of the running code.
	GitShortCommit string
	// Version is the symbolic version (if any) of the running code.
	Version string
	// RunID uniquely identifies this experiment run.
	RunID string
	// Mode is the collector's operating mode.
	Mode string
	// RelayConnectionUUIDs are the uuids of the relay connections accepted
	// in relayed mode, in accept order.
	RelayConnectionUUIDs []string

	StartTime time.Time
	EndTime   time.Time

	Window  WindowConfig
	Summary Summary
}

// NewArchivalData wraps a Summary with run metadata.
func NewArchivalData(runID string, start, end time.Time, w WindowConfig,
	s Summary) *ArchivalData {
	return &ArchivalData{
		GitShortCommit: prometheusx.GitShortCommit,
		Version:        version.Version,
		RunID:          runID,
		Mode:           string(s.Mode),
		StartTime:      start,
		EndTime:        end,
		Window:         w,
		Summary:        s,
	}
}
