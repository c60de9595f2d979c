// Package upstream implements the source adapter for the upstream
// market-data WebSocket feed. The adapter never gives up: transient
// failures are retried with exponential backoff until its context is done.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-lab/feedrelay/internal/backoff"
	"github.com/m-lab/feedrelay/internal/emitter"
	"github.com/m-lab/feedrelay/pkg/feedrelay/model"
	"github.com/m-lab/feedrelay/pkg/feedrelay/spec"
)

// ErrInvalidURL is returned by New for an unusable upstream URL.
var ErrInvalidURL = errors.New("invalid upstream URL")

// Config is the configuration of an Adapter.
type Config struct {
	// URL is the WebSocket endpoint (ws or wss).
	URL string
	// Channel, if not empty, is subscribed to after each connection with a
	// SUBSCRIBE request. Endpoints that encode the channel in the URL path
	// don't need it.
	Channel string
	// Backoff is the reconnection policy.
	Backoff backoff.Policy
	// Clock returns the wall-clock time in ns since the epoch. Defaults to
	// time.Now().UnixNano().
	Clock func() int64
}

// subscribeRequest is the SUBSCRIBE request sent when Config.Channel is set.
type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// Adapter reads and decodes events from the upstream feed.
type Adapter struct {
	config  Config
	url     *url.URL
	dialer  *websocket.Dialer
	emitter emitter.Emitter

	decodeFailures atomic.Int64
	received       atomic.Int64
}

// New returns an Adapter for the given configuration. It fails if the URL
// cannot be used.
func New(config Config, em emitter.Emitter) (*Adapter, error) {
	u, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if config.Clock == nil {
		config.Clock = func() int64 { return time.Now().UnixNano() }
	}
	if config.Backoff == (backoff.Policy{}) {
		config.Backoff = backoff.Policy{
			Initial: spec.DefaultInitialBackoff,
			Max:     spec.DefaultMaxBackoff,
		}
	}
	return &Adapter{
		config: config,
		url:    u,
		dialer: &websocket.Dialer{
			HandshakeTimeout: spec.HandshakeTimeout,
			Proxy:            websocket.DefaultDialer.Proxy,
		},
		emitter: em,
	}, nil
}

// DecodeFailures returns the number of frames skipped so far.
func (a *Adapter) DecodeFailures() int64 {
	return a.decodeFailures.Load()
}

// Received returns the number of events passed to the handler so far.
func (a *Adapter) Received() int64 {
	return a.received.Load()
}

// Run connects to the upstream feed and calls handle, synchronously, for
// every decoded event. It reconnects on any failure and only returns
// ctx.Err() once the context is done.
func (a *Adapter) Run(ctx context.Context, handle func(model.Frame)) error {
	m := backoff.NewMachine(a.config.Backoff)
	for {
		err := a.session(ctx, m, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.emitter.OnDisconnect(emitter.Upstream, err)
		delay := m.Failed()
		a.emitter.OnReconnect(emitter.Upstream, m.Failures(), delay)
		if err := m.Wait(ctx, delay); err != nil {
			return err
		}
	}
}

// session runs a single connection until it fails.
func (a *Adapter) session(ctx context.Context, m *backoff.Machine,
	handle func(model.Frame)) error {
	conn, _, err := a.dialer.DialContext(ctx, a.url.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	m.Established()
	a.emitter.OnConnect(emitter.Upstream, a.url.String(), "")

	if a.config.Channel != "" {
		err = conn.WriteJSON(&subscribeRequest{
			Method: "SUBSCRIBE",
			Params: []string{a.config.Channel},
			ID:     1,
		})
		if err != nil {
			return err
		}
	}

	// Closing the connection is the only way to interrupt ReadMessage.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	first := true
	for {
		kind, data, err := conn.ReadMessage()
		// The receipt time must be taken before anything else.
		recv := a.config.Clock()
		if err != nil {
			return err
		}
		if first {
			// The connection delivered data: it's healthy.
			m.Reset()
			first = false
		}
		if kind != websocket.TextMessage {
			continue
		}
		ev, err := model.DecodeRawEvent(data)
		if errors.Is(err, model.ErrNotAnEvent) {
			continue
		}
		if err != nil {
			n := a.decodeFailures.Add(1)
			a.emitter.OnDecodeFailure(emitter.Upstream, n, err)
			continue
		}
		a.received.Add(1)
		handle(model.Frame{ReceivedAt: recv, Event: ev})
	}
}
