package collector

import (
	"fmt"
	"io"

	"github.com/m-lab/feedrelay/pkg/feedrelay/model"
)

// PrintSummary writes a human-readable rendition of s to w.
func PrintSummary(w io.Writer, s model.Summary) error {
	_, err := fmt.Fprintf(w, `mode: %s
samples: %d
events lost: %d
duplicates: %d
latency avg/median/p95/p99: %.3f/%.3f/%.3f/%.3f ms
latency min/max: %.3f/%.3f ms
jitter (stddev): %.3f ms
`, s.Mode, s.SampleCount, s.EventsLost, s.Duplicates,
		s.AvgLatencyMS, s.MedianLatencyMS, s.P95LatencyMS, s.P99LatencyMS,
		s.MinLatencyMS, s.MaxLatencyMS, s.JitterStddevMS)
	if err != nil || s.Backbone == nil {
		return err
	}
	_, err = fmt.Fprintf(w, "relay hop avg/median: %.3f/%.3f ms\n",
		s.Backbone.AvgLatencyMS, s.Backbone.MedianLatencyMS)
	return err
}
