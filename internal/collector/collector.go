package collector

import (
	"context"
	"time"

	"github.com/m-lab/feedrelay/internal/emitter"
	"github.com/m-lab/feedrelay/pkg/feedrelay/model"
	"github.com/m-lab/feedrelay/pkg/feedrelay/spec"
	"github.com/m-lab/go/memoryless"
	"github.com/m-lab/go/rtx"
)

// Window bounds a collection run. The window closes when Duration has
// elapsed or Count samples were recorded, whichever happens first. A zero
// field is not a bound.
type Window struct {
	Duration time.Duration
	Count    int
}

// Config returns the WindowConfig stored with archival data.
func (w Window) Config() model.WindowConfig {
	return model.WindowConfig{
		DurationMS: w.Duration.Milliseconds(),
		Count:      w.Count,
	}
}

// Result is the outcome of a collection window.
type Result struct {
	Summary model.Summary
	Records []model.Record
	Start   time.Time
	End     time.Time
}

// Run records deliveries from in until the window closes, in is closed or
// ctx is done, then returns the window's Result. Cancelling ctx yields a
// partial result rather than none.
//
// A delivery is recorded only if it was read before the window timer fired,
// it was received strictly before the window deadline and the sample
// threshold was not reached yet.
func (a *Aggregator) Run(ctx context.Context, in <-chan model.Delivery,
	w Window, em emitter.Emitter) Result {
	start := time.Now()

	var (
		deadline int64
		expired  <-chan time.Time
	)
	if w.Duration > 0 {
		deadline = start.Add(w.Duration).UnixNano()
		timer := time.NewTimer(w.Duration)
		defer timer.Stop()
		expired = timer.C
	}

	ticker, err := memoryless.NewTicker(ctx, memoryless.Config{
		Min:      spec.ProgressInterval,
		Expected: spec.ProgressInterval,
		Max:      spec.ProgressInterval,
	})
	// This can only fail with an invalid configuration. Since the interval
	// is a constant, we panic here.
	rtx.PanicOnError(err, "ticker creation failed (this should never happen)")
	defer ticker.Stop()
	prog := newProgress(start)

loop:
	for {
		if w.Count > 0 && a.Len() >= w.Count {
			break
		}
		select {
		case <-ctx.Done():
			break loop
		case <-expired:
			break loop
		case now := <-ticker.C:
			prog.report(now, a.Len())
		case d, ok := <-in:
			if !ok {
				break loop
			}
			if deadline != 0 && d.CollectorReceiptTime >= deadline {
				continue
			}
			if r, ok := a.add(d); ok {
				prog.add(r)
			}
		}
	}

	end := time.Now()
	em.OnWindowClosed(a.Len())
	return Result{
		Summary: a.Summarize(),
		Records: a.Records(),
		Start:   start,
		End:     end,
	}
}
