// Package spec contains the constants shared by the feedrelay forwarder and
// collector.
package spec

import "time"

// Mode is the collector's operating mode.
type Mode string

const (
	// ModeDirect means the collector subscribes to the upstream feed itself.
	ModeDirect = Mode("direct")
	// ModeRelayed means the collector receives envelopes from a forwarder
	// over the relay transport.
	ModeRelayed = Mode("relayed")
)

const (
	// DefaultUpstreamURL is the default market-data stream.
	DefaultUpstreamURL = "wss://stream.binance.com:9443/ws/btcusdt@bookTicker"

	// DefaultRelayPort is the default port the collector listens on in
	// relayed mode, and the forwarder connects to.
	DefaultRelayPort = 8080

	// SequenceOrigin is the first sequence id assigned by a Stamper.
	SequenceOrigin uint64 = 0

	// DefaultInitialBackoff is the delay after the first connection failure.
	DefaultInitialBackoff = time.Second
	// DefaultMaxBackoff caps the reconnection delay.
	DefaultMaxBackoff = 30 * time.Second

	// DefaultQueueSize is the capacity of the forwarder's relay queue.
	DefaultQueueSize = 10000

	// MaxFrameSize is the maximum size of a single relay frame, newline
	// included. Longer lines are discarded as malformed.
	MaxFrameSize = 1 << 20

	// HandshakeTimeout bounds the upstream WebSocket handshake.
	HandshakeTimeout = 10 * time.Second

	// DialTimeout bounds a single relay connection attempt.
	DialTimeout = 5 * time.Second

	// DeliveryBufferSize is the capacity of the channel between the
	// transports and the aggregator.
	DeliveryBufferSize = 1024

	// ProgressInterval is how often the collector logs per-second progress.
	ProgressInterval = time.Second

	// DefaultDuration is the default collection window.
	DefaultDuration = 60 * time.Second

	// Datatype is the datatype name used for archival files.
	Datatype = "feedrelay"
)
