package collector

import (
	"math"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/feedrelay/pkg/feedrelay/model"
)

// progress accumulates the records of the current reporting interval.
type progress struct {
	since time.Time

	count    int
	sum      float64
	min, max float64
	hopSum   float64
	hopCount int
}

func newProgress(now time.Time) *progress {
	p := &progress{}
	p.reset(now)
	return p
}

func (p *progress) reset(now time.Time) {
	*p = progress{since: now, min: math.Inf(1), max: math.Inf(-1)}
}

func (p *progress) add(r model.Record) {
	p.count++
	p.sum += r.EndToEndLatencyMS
	p.min = math.Min(p.min, r.EndToEndLatencyMS)
	p.max = math.Max(p.max, r.EndToEndLatencyMS)
	if r.RelayHopLatencyMS != nil {
		p.hopSum += *r.RelayHopLatencyMS
		p.hopCount++
	}
}

// report logs the interval's statistics and starts a new interval.
func (p *progress) report(now time.Time, total int) {
	defer p.reset(now)
	elapsed := now.Sub(p.since).Seconds()
	if p.count == 0 || elapsed <= 0 {
		log.Info("Progress", "events_per_sec", 0, "total", total)
		return
	}
	kv := []interface{}{
		"events_per_sec", math.Round(float64(p.count)/elapsed*10) / 10,
		"avg_ms", p.sum / float64(p.count),
		"min_ms", p.min,
		"max_ms", p.max,
		"total", total,
	}
	if p.hopCount > 0 {
		kv = append(kv, "hop_avg_ms", p.hopSum/float64(p.hopCount))
	}
	log.Info("Progress", kv...)
}
