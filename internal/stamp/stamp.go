// Package stamp implements the timestamping and sequencing layer: every
// decoded upstream event is wrapped in an Envelope carrying its receipt
// time and a sequence id.
package stamp

import (
	"time"

	"github.com/m-lab/feedrelay/pkg/feedrelay/model"
)

// Stamper assigns sequence ids. A process owns exactly one Stamper, used by
// a single goroutine (the upstream read loop), so it needs no locking.
type Stamper struct {
	now  func() time.Time
	next uint64
}

// New returns a Stamper whose first sequence id is origin. If now is nil,
// time.Now is used.
func New(now func() time.Time, origin uint64) *Stamper {
	if now == nil {
		now = time.Now
	}
	return &Stamper{now: now, next: origin}
}

// Now returns the current wall-clock time in nanoseconds since the epoch.
// I/O loops call it first thing after a frame is read.
func (s *Stamper) Now() int64 {
	return s.now().UnixNano()
}

// Stamp assigns the next sequence id to f and returns the resulting
// Envelope.
func (s *Stamper) Stamp(f model.Frame) model.Envelope {
	env := model.Envelope{
		SequenceID:        s.next,
		ReceiptTime:       f.ReceivedAt,
		UpstreamEventTime: f.Event.EventTime,
		Payload:           string(f.Event.Raw),
	}
	s.next++
	return env
}

// Next returns the sequence id the next Stamp call will assign.
func (s *Stamper) Next() uint64 {
	return s.next
}
