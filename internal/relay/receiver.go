package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/feedrelay/internal/emitter"
	"github.com/m-lab/feedrelay/internal/netx"
	"github.com/m-lab/feedrelay/pkg/feedrelay/model"
)

// Receiver accepts relay connections and turns their frames into
// deliveries. A single relay connection is active at any time: a newer
// connection replaces the active one, which is closed.
type Receiver struct {
	ln      net.Listener
	emitter emitter.Emitter
	clock   func() int64

	decodeFailures atomic.Int64
	received       atomic.Int64
	accepted       atomic.Int64

	mu     sync.Mutex
	active *inbound
	uuids  []string
}

// inbound is an accepted relay connection.
type inbound struct {
	conn       net.Conn
	uuid       string
	acceptTime time.Time
	once       sync.Once
}

// newInbound wraps an accepted connection. The uuid is only known for
// connections implementing netx.ConnInfo.
func newInbound(c net.Conn) *inbound {
	in := &inbound{conn: c, acceptTime: time.Now()}
	if ci, ok := c.(netx.ConnInfo); ok {
		in.acceptTime = ci.AcceptTime()
		id, err := ci.UUID()
		if err != nil {
			log.Warn("Cannot get relay connection uuid", "error", err)
		}
		in.uuid = id
	}
	return in
}

// close logs the connection's lifetime and TCP metrics, when available, and
// closes it. It is safe to call more than once.
func (in *inbound) close() {
	in.once.Do(func() {
		log.Info("Relay connection closed", "uuid", in.uuid,
			"remote", in.conn.RemoteAddr(),
			"accept_time", in.acceptTime.Format(time.RFC3339Nano),
			"duration", time.Since(in.acceptTime))
		if ci, ok := in.conn.(netx.ConnInfo); ok {
			read, _ := ci.ByteCounters()
			if ti, err := ci.Info(); err == nil {
				log.Info("Relay connection TCP_INFO", "uuid", in.uuid,
					"rtt", time.Duration(ti.RTT)*time.Microsecond,
					"rttvar", time.Duration(ti.RTTVar)*time.Microsecond,
					"bytes_read", read)
			}
		}
		in.conn.Close()
	})
}

// NewReceiver returns a Receiver accepting connections from ln. Use a
// *netx.Listener to get TCP metrics for relay connections.
func NewReceiver(ln net.Listener, em emitter.Emitter) *Receiver {
	return &Receiver{
		ln:      ln,
		emitter: em,
		clock:   func() int64 { return time.Now().UnixNano() },
	}
}

// Addr returns the listener's address.
func (r *Receiver) Addr() net.Addr {
	return r.ln.Addr()
}

// DecodeFailures returns the number of frames skipped so far.
func (r *Receiver) DecodeFailures() int64 {
	return r.decodeFailures.Load()
}

// Received returns the number of deliveries produced so far.
func (r *Receiver) Received() int64 {
	return r.received.Load()
}

// Accepted returns the number of accepted relay connections.
func (r *Receiver) Accepted() int64 {
	return r.accepted.Load()
}

// ConnectionUUIDs returns the uuids of the relay connections accepted so
// far, in accept order. Connections without a uuid are omitted.
func (r *Receiver) ConnectionUUIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.uuids...)
}

// Serve accepts relay connections and sends a delivery to out for each
// valid frame. It closes the listener and returns ctx.Err() once ctx is
// done, or the accept error if the listener fails. Serve does not close out.
func (r *Receiver) Serve(ctx context.Context, out chan<- model.Delivery) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		r.replace(nil)
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		r.ln.Close()
	}()

	for {
		c, err := r.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		r.accepted.Add(1)
		in := newInbound(c)
		if in.uuid != "" {
			r.mu.Lock()
			r.uuids = append(r.uuids, in.uuid)
			r.mu.Unlock()
		}
		r.replace(in)
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.handle(ctx, in, out)
		}()
	}
}

// replace makes in the active connection and closes the previous one.
func (r *Receiver) replace(in *inbound) {
	r.mu.Lock()
	old := r.active
	r.active = in
	r.mu.Unlock()
	if old != nil {
		if in != nil {
			log.Info("Replacing relay connection", "old", old.uuid,
				"new", in.uuid, "remote", in.conn.RemoteAddr())
		}
		old.close()
	}
}

// release clears the active connection if it is still in.
func (r *Receiver) release(in *inbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == in {
		r.active = nil
	}
}

func (r *Receiver) handle(ctx context.Context, in *inbound, out chan<- model.Delivery) {
	r.emitter.OnConnect(emitter.RelayReceiver, in.conn.RemoteAddr().String(), in.uuid)
	dec := NewDecoder(in.conn)
	var err error
	for {
		var line []byte
		line, err = dec.ReadFrame()
		// The receipt time must be taken before decoding.
		recv := r.clock()
		if errors.Is(err, ErrMalformedFrame) {
			n := r.decodeFailures.Add(1)
			r.emitter.OnDecodeFailure(emitter.RelayReceiver, n, err)
			continue
		}
		if err != nil {
			break
		}
		env, derr := DecodeEnvelope(line)
		if derr != nil {
			n := r.decodeFailures.Add(1)
			r.emitter.OnDecodeFailure(emitter.RelayReceiver, n, derr)
			continue
		}
		r.received.Add(1)
		d := model.Delivery{
			Envelope:             env,
			CollectorReceiptTime: recv,
			Relayed:              true,
		}
		select {
		case out <- d:
		case <-ctx.Done():
			err = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
	}
	r.release(in)
	in.close()
	r.emitter.OnDisconnect(emitter.RelayReceiver, err)
}
