package emitter

import (
	"sync"
	"time"
)

// Event is an event captured by a Recorder.
type Event struct {
	Kind      string
	Component string
	Addr      string
	UUID      string
	Err       error
	Attempt   int
	Delay     time.Duration
	Total     int64
	Seq       uint64
	Samples   int
}

// Recorder is an Emitter that keeps every event in memory. It is meant for
// tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns the number of recorded events of the given kind.
func (r *Recorder) Count(kind string) int {
	n := 0
	for _, e := range r.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *Recorder) OnConnect(component, addr, uuid string) {
	r.add(Event{Kind: "connect", Component: component, Addr: addr, UUID: uuid})
}

func (r *Recorder) OnDisconnect(component string, err error) {
	r.add(Event{Kind: "disconnect", Component: component, Err: err})
}

func (r *Recorder) OnReconnect(component string, attempt int, delay time.Duration) {
	r.add(Event{Kind: "reconnect", Component: component, Attempt: attempt, Delay: delay})
}

func (r *Recorder) OnDecodeFailure(component string, total int64, err error) {
	r.add(Event{Kind: "decode_failure", Component: component, Total: total, Err: err})
}

func (r *Recorder) OnDrop(component string, seq uint64) {
	r.add(Event{Kind: "drop", Component: component, Seq: seq})
}

func (r *Recorder) OnWindowClosed(samples int) {
	r.add(Event{Kind: "window_closed", Samples: samples})
}

var _ Emitter = &Recorder{}
