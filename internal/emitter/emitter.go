// Package emitter defines the observability sink used by the feedrelay
// components to report connection and pipeline events.
package emitter

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/feedrelay/internal/metrics"
)

// Component names reported to an Emitter.
const (
	Upstream      = "upstream"
	RelaySender   = "relay-sender"
	RelayReceiver = "relay-receiver"
)

// Emitter receives observability events. Implementations must return
// quickly: they are called from network read loops.
type Emitter interface {
	// OnConnect is called when a connection is established. uuid identifies
	// the TCP connection, when known.
	OnConnect(component, addr, uuid string)
	// OnDisconnect is called when a connection attempt fails or an
	// established connection is lost.
	OnDisconnect(component string, err error)
	// OnReconnect is called before waiting delay for the attempt-th
	// consecutive reconnection.
	OnReconnect(component string, attempt int, delay time.Duration)
	// OnDecodeFailure is called when a frame is skipped. total is the
	// number of failures so far for this component.
	OnDecodeFailure(component string, total int64, err error)
	// OnDrop is called when an envelope is dropped from a full queue.
	OnDrop(component string, seq uint64)
	// OnWindowClosed is called once the collection window closes.
	OnWindowClosed(samples int)
}

// Log logs events and updates the Prometheus metrics.
type Log struct{}

// OnConnect logs the new connection.
func (Log) OnConnect(component, addr, uuid string) {
	if uuid != "" {
		log.Info("Connection established", "component", component, "addr", addr,
			"uuid", uuid)
	} else {
		log.Info("Connection established", "component", component, "addr", addr)
	}
	metrics.ConnectionEvents.WithLabelValues(component, "connect").Inc()
}

// OnDisconnect logs the lost connection.
func (Log) OnDisconnect(component string, err error) {
	log.Warn("Connection lost", "component", component, "error", err)
	metrics.ConnectionEvents.WithLabelValues(component, "disconnect").Inc()
}

// OnReconnect logs the upcoming reconnection attempt.
func (Log) OnReconnect(component string, attempt int, delay time.Duration) {
	log.Info("Reconnecting", "component", component, "attempt", attempt,
		"backoff", delay)
	metrics.BackoffSeconds.WithLabelValues(component).Set(delay.Seconds())
}

// OnDecodeFailure logs the first few failures, then one every thousand.
func (Log) OnDecodeFailure(component string, total int64, err error) {
	metrics.DecodeFailures.WithLabelValues(component).Inc()
	if total <= 5 || total%1000 == 0 {
		log.Warn("Skipping malformed frame", "component", component,
			"failures", total, "error", err)
		return
	}
	log.Debug("Skipping malformed frame", "component", component,
		"failures", total, "error", err)
}

// OnDrop logs the dropped sequence id.
func (Log) OnDrop(component string, seq uint64) {
	log.Warn("Queue full, dropped oldest envelope", "component", component,
		"seq", seq)
	metrics.RelayDropped.Inc()
}

// OnWindowClosed logs the final sample count.
func (Log) OnWindowClosed(samples int) {
	log.Info("Collection window closed", "samples", samples)
	metrics.WindowSamples.Set(float64(samples))
}

// Checks that Log implements Emitter.
var _ Emitter = Log{}
