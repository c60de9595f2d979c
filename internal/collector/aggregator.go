// Package collector aggregates deliveries into latency records and computes
// the summary of a collection window.
package collector

import (
	"math"

	"github.com/m-lab/feedrelay/internal/metrics"
	"github.com/m-lab/feedrelay/internal/stats"
	"github.com/m-lab/feedrelay/pkg/feedrelay/model"
	"github.com/m-lab/feedrelay/pkg/feedrelay/spec"
)

// Aggregator owns the latency ledger of a collection window. It is not safe
// for concurrent use.
type Aggregator struct {
	mode    spec.Mode
	records []model.Record

	seen       map[uint64]struct{}
	minSeq     uint64
	maxSeq     uint64
	duplicates int
}

// NewAggregator returns an empty Aggregator for the given mode.
func NewAggregator(mode spec.Mode) *Aggregator {
	return &Aggregator{
		mode: mode,
		seen: make(map[uint64]struct{}),
	}
}

// Add records d. It returns false, and records nothing, if d's sequence id
// was already recorded.
func (a *Aggregator) Add(d model.Delivery) bool {
	_, ok := a.add(d)
	return ok
}

func (a *Aggregator) add(d model.Delivery) (model.Record, bool) {
	id := d.Envelope.SequenceID
	if _, dup := a.seen[id]; dup {
		a.duplicates++
		return model.Record{}, false
	}
	if len(a.seen) == 0 || id < a.minSeq {
		a.minSeq = id
	}
	if len(a.seen) == 0 || id > a.maxSeq {
		a.maxSeq = id
	}
	a.seen[id] = struct{}{}

	r := model.NewRecord(d)
	a.records = append(a.records, r)

	mode := string(a.mode)
	metrics.Deliveries.WithLabelValues(mode).Inc()
	metrics.LatencyMS.WithLabelValues(mode, "end_to_end").Observe(r.EndToEndLatencyMS)
	if r.RelayHopLatencyMS != nil {
		metrics.LatencyMS.WithLabelValues(mode, "relay_hop").Observe(*r.RelayHopLatencyMS)
	}
	return r, true
}

// Len returns the number of recorded samples.
func (a *Aggregator) Len() int {
	return len(a.records)
}

// Records returns a copy of the ledger, in arrival order.
func (a *Aggregator) Records() []model.Record {
	return append([]model.Record(nil), a.records...)
}

// EventsLost returns the number of sequence ids missing between the lowest
// and highest recorded ids, capped at math.MaxInt.
func (a *Aggregator) EventsLost() int {
	if len(a.seen) == 0 {
		return 0
	}
	// Recorded ids are distinct, so the span is at least len(a.seen)-1.
	lost := a.maxSeq - a.minSeq - uint64(len(a.seen)-1)
	if lost > math.MaxInt {
		return math.MaxInt
	}
	return int(lost)
}

// Duplicates returns the number of deliveries rejected by Add.
func (a *Aggregator) Duplicates() int {
	return a.duplicates
}

// Summarize computes the Summary of the current ledger. With no samples,
// every statistic is zero and Backbone is nil.
func (a *Aggregator) Summarize() model.Summary {
	e2e := make([]float64, 0, len(a.records))
	var hops []float64
	for _, r := range a.records {
		e2e = append(e2e, r.EndToEndLatencyMS)
		if r.RelayHopLatencyMS != nil {
			hops = append(hops, *r.RelayHopLatencyMS)
		}
	}
	dist := stats.Compute(e2e)
	s := model.Summary{
		Mode:            a.mode,
		SampleCount:     len(a.records),
		EventsLost:      a.EventsLost(),
		Duplicates:      a.duplicates,
		AvgLatencyMS:    dist.Mean,
		MedianLatencyMS: dist.Median,
		P95LatencyMS:    dist.P95,
		P99LatencyMS:    dist.P99,
		MinLatencyMS:    dist.Min,
		MaxLatencyMS:    dist.Max,
		JitterStddevMS:  dist.StdDev,
	}
	if a.mode == spec.ModeRelayed && len(hops) > 0 {
		hd := stats.Compute(hops)
		s.Backbone = &model.HopSummary{
			AvgLatencyMS:    hd.Mean,
			MedianLatencyMS: hd.Median,
		}
	}
	return s
}
