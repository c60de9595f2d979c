package relay

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/m-lab/feedrelay/internal/backoff"
	"github.com/m-lab/feedrelay/internal/emitter"
	"github.com/m-lab/feedrelay/internal/metrics"
	"github.com/m-lab/feedrelay/internal/netx"
	"github.com/m-lab/feedrelay/pkg/feedrelay/model"
	"github.com/m-lab/feedrelay/pkg/feedrelay/spec"
)

// ErrClosedByPeer is returned when the collector closes the relay
// connection.
var ErrClosedByPeer = errors.New("connection closed by peer")

// SenderConfig is the configuration of a Sender.
type SenderConfig struct {
	// Addr is the collector's host:port.
	Addr string
	// Backoff is the reconnection policy.
	Backoff backoff.Policy
	// QueueSize is the maximum number of envelopes waiting to be sent.
	QueueSize int
	// CC is the congestion control algorithm for the relay connection. It
	// is left to the system default if empty.
	CC string
}

// Sender forwards envelopes to the collector. Enqueue never blocks: while the
// collector is unreachable, envelopes accumulate in a bounded queue and the
// oldest are dropped.
type Sender struct {
	config  SenderConfig
	queue   *Queue
	emitter emitter.Emitter

	sent    atomic.Int64
	dropped atomic.Int64
	lost    atomic.Int64
}

// NewSender returns a Sender for the given configuration.
func NewSender(config SenderConfig, em emitter.Emitter) *Sender {
	if config.QueueSize <= 0 {
		config.QueueSize = spec.DefaultQueueSize
	}
	if config.Backoff == (backoff.Policy{}) {
		config.Backoff = backoff.Policy{
			Initial: spec.DefaultInitialBackoff,
			Max:     spec.DefaultMaxBackoff,
		}
	}
	return &Sender{
		config:  config,
		queue:   NewQueue(config.QueueSize),
		emitter: em,
	}
}

// Enqueue queues env for sending.
func (s *Sender) Enqueue(env model.Envelope) {
	if old, ok := s.queue.Push(env); ok {
		s.dropped.Add(1)
		s.emitter.OnDrop(emitter.RelaySender, old.SequenceID)
	}
}

// Sent returns the number of envelopes successfully flushed to a connection.
func (s *Sender) Sent() int64 {
	return s.sent.Load()
}

// Dropped returns the number of envelopes evicted from the full queue.
func (s *Sender) Dropped() int64 {
	return s.dropped.Load()
}

// Lost returns the number of envelopes that were in flight when a
// connection failed.
func (s *Sender) Lost() int64 {
	return s.lost.Load()
}

// Pending returns the number of queued envelopes.
func (s *Sender) Pending() int {
	return s.queue.Len()
}

// Run connects to the collector and sends queued envelopes until ctx is
// done. It reconnects on any failure and only returns ctx.Err().
func (s *Sender) Run(ctx context.Context) error {
	m := backoff.NewMachine(s.config.Backoff)
	for {
		err := s.session(ctx, m)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.emitter.OnDisconnect(emitter.RelaySender, err)
		delay := m.Failed()
		s.emitter.OnReconnect(emitter.RelaySender, m.Failures(), delay)
		if err := m.Wait(ctx, delay); err != nil {
			return err
		}
	}
}

// session runs a single connection until it fails.
func (s *Sender) session(ctx context.Context, m *backoff.Machine) error {
	conn, err := netx.Dial(ctx, s.config.Addr, s.config.CC)
	if err != nil {
		return err
	}
	m.Established()
	id, err := conn.UUID()
	if err != nil {
		log.Warn("Cannot get relay connection uuid", "error", err)
	}
	s.emitter.OnConnect(emitter.RelaySender, s.config.Addr, id)
	if s.config.CC != "" {
		cc, err := conn.CC()
		log.Debug("Relay congestion control", "requested", s.config.CC,
			"actual", cc, "error", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer conn.Close()
	defer cancel()

	// The collector never writes: a read returning means the connection is
	// gone, even when there is nothing to send.
	wg.Add(1)
	go func() {
		defer wg.Done()
		io.Copy(io.Discard, conn)
		cancel()
	}()
	// Closing the connection unblocks any pending write.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-sctx.Done()
		conn.Close()
	}()

	w := newBatchWriter(conn, 0, func(n int64) {
		s.sent.Add(n)
		metrics.RelaySent.Add(float64(n))
		// Data made it to the connection: it's healthy.
		m.Reset()
	})
	fail := func(err error) error {
		s.lost.Add(w.Pending())
		return err
	}
	for {
		env, ok := s.queue.TryPop()
		if !ok {
			// Nothing else is queued right now: push out what's buffered.
			if err := w.Flush(); err != nil {
				return fail(err)
			}
			env, err = s.queue.Pop(sctx)
			if err != nil {
				if ctx.Err() == nil {
					return ErrClosedByPeer
				}
				return err
			}
		}
		frame, err := Marshal(env)
		if err != nil {
			return fail(err)
		}
		if err := w.WriteFrame(frame); err != nil {
			return fail(err)
		}
	}
}

// batchWriter buffers frames and reports, on each flush to the underlying
// writer, how many whole frames it carried. A frame is never split across
// two flushes unless it is larger than the buffer, in which case it is
// written through on its own.
type batchWriter struct {
	w         *bufio.Writer
	pending   int64
	onFlushed func(n int64)
}

// newBatchWriter returns a batchWriter with the given buffer size. A size
// of zero selects the bufio default.
func newBatchWriter(w io.Writer, size int, onFlushed func(n int64)) *batchWriter {
	return &batchWriter{
		w:         bufio.NewWriterSize(w, size),
		onFlushed: onFlushed,
	}
}

// WriteFrame buffers frame. On error, the frame is counted as pending.
func (b *batchWriter) WriteFrame(frame []byte) error {
	if len(frame) > b.w.Available() && b.w.Buffered() > 0 {
		if err := b.Flush(); err != nil {
			b.pending++
			return err
		}
	}
	b.pending++
	if _, err := b.w.Write(frame); err != nil {
		return err
	}
	if b.w.Buffered() == 0 {
		// Written through.
		b.flushed()
	}
	return nil
}

// Flush writes any buffered frames to the underlying writer.
func (b *batchWriter) Flush() error {
	if err := b.w.Flush(); err != nil {
		return err
	}
	b.flushed()
	return nil
}

// Pending returns the number of frames not yet known to have been written
// to the underlying writer.
func (b *batchWriter) Pending() int64 {
	return b.pending
}

func (b *batchWriter) flushed() {
	if b.pending > 0 {
		b.onFlushed(b.pending)
		b.pending = 0
	}
}
