// Package backoff implements the bounded exponential backoff used by every
// reconnecting component, as an explicit connection state machine.
package backoff

import (
	"context"
	"time"
)

// Policy is an exponential backoff policy. The n-th consecutive failure
// waits min(Initial * 2^(n-1), Max).
type Policy struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the delay after n consecutive failures. It returns zero for
// n < 1.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 || p.Initial <= 0 {
		return 0
	}
	d := p.Initial
	for i := 1; i < n; i++ {
		// Stop doubling once the cap is reached; this also keeps d from
		// overflowing for large n.
		if p.Max > 0 && d >= p.Max {
			break
		}
		d *= 2
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// State is a connection state.
type State int

const (
	// Connecting means a connection attempt is in progress.
	Connecting State = iota
	// Connected means the connection is established.
	Connected
	// BackingOff means the component is waiting before the next attempt.
	BackingOff
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case BackingOff:
		return "BACKING_OFF"
	default:
		return "UNKNOWN"
	}
}

// Machine tracks the connection state of a single reconnecting component.
// It is not safe for concurrent use.
//
// Transitions:
//
//	CONNECTING  -> CONNECTED    Established
//	CONNECTING  -> BACKING_OFF  Failed
//	CONNECTED   -> BACKING_OFF  Failed
//	BACKING_OFF -> CONNECTING   Wait
type Machine struct {
	policy   Policy
	state    State
	failures int
}

// NewMachine returns a Machine in the CONNECTING state.
func NewMachine(p Policy) *Machine {
	return &Machine{policy: p, state: Connecting}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Failures returns the number of consecutive failures since the last Reset.
func (m *Machine) Failures() int {
	return m.failures
}

// Established records a successful connection. It does not reset the
// failure counter: callers decide when a connection is healthy enough to
// Reset.
func (m *Machine) Established() {
	m.state = Connected
}

// Reset clears the consecutive failure counter.
func (m *Machine) Reset() {
	m.failures = 0
}

// Failed records a connection failure and returns the delay to wait before
// the next attempt.
func (m *Machine) Failed() time.Duration {
	m.failures++
	m.state = BackingOff
	return m.policy.Delay(m.failures)
}

// Wait blocks for d, then moves to CONNECTING. It returns ctx.Err() if the
// context is done first, leaving the state unchanged.
func (m *Machine) Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		m.state = Connecting
		return nil
	}
}
