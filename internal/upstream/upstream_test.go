package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-lab/feedrelay/internal/backoff"
	"github.com/m-lab/feedrelay/internal/emitter"
	"github.com/m-lab/feedrelay/pkg/feedrelay/model"
)

const event = `{"e":"bookTicker","u":400900217,"E":1700000000000,"s":"BNBUSDT","b":"25.35","B":"31.21","a":"25.36","A":"40.66"}`

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "ws", url: "ws://localhost:1234/ws"},
		{name: "wss", url: "wss://stream.example.com:9443/ws/btcusdt@bookTicker"},
		{name: "http-scheme", url: "http://localhost/", wantErr: true},
		{name: "no-host", url: "ws:///path", wantErr: true},
		{name: "unparseable", url: "ws://[::1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{URL: tt.url}, &emitter.Recorder{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidURL) {
				t.Errorf("New() error = %v, want ErrInvalidURL", err)
			}
		})
	}
}

func TestAdapter_Run(t *testing.T) {
	var conns atomic.Int32
	subscribed := make(chan string, 2)
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req subscribeRequest
		if err := conn.ReadJSON(&req); err == nil && len(req.Params) == 1 {
			subscribed <- req.Params[0]
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":1}`))
		switch conns.Add(1) {
		case 1:
			// First connection: one good event, one malformed frame, then
			// drop the connection.
			conn.WriteMessage(websocket.TextMessage, []byte(event))
			conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
			conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"bookTicker"}`))
		default:
			conn.WriteMessage(websocket.TextMessage, []byte(event))
			<-release
		}
	}))
	defer srv.Close()
	defer close(release)

	rec := &emitter.Recorder{}
	var clock atomic.Int64
	a, err := New(Config{
		URL:     wsURL(srv),
		Channel: "btcusdt@bookTicker",
		Backoff: backoff.Policy{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond},
		Clock:   func() int64 { return clock.Add(1) },
	}, rec)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var frames []model.Frame
	got := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- a.Run(ctx, func(f model.Frame) {
			mu.Lock()
			defer mu.Unlock()
			frames = append(frames, f)
			if len(frames) == 2 {
				close(got)
			}
		})
	}()

	select {
	case <-got:
	case <-ctx.Done():
		t.Fatalf("timed out waiting for frames")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() returned %v, want context.Canceled", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, f := range frames {
		if f.Event.EventTime != 1700000000000 {
			t.Errorf("frame %d: EventTime = %d", i, f.Event.EventTime)
		}
		if string(f.Event.Raw) != event {
			t.Errorf("frame %d: payload not carried verbatim", i)
		}
		if f.ReceivedAt <= 0 {
			t.Errorf("frame %d: missing receipt time", i)
		}
	}
	if frames[1].ReceivedAt <= frames[0].ReceivedAt {
		t.Errorf("receipt times not increasing: %d, %d",
			frames[0].ReceivedAt, frames[1].ReceivedAt)
	}
	if a.DecodeFailures() != 2 {
		t.Errorf("DecodeFailures() = %d, want 2", a.DecodeFailures())
	}
	if a.Received() != 2 {
		t.Errorf("Received() = %d, want 2", a.Received())
	}
	if n := rec.Count("connect"); n != 2 {
		t.Errorf("connect events = %d, want 2", n)
	}
	if n := rec.Count("reconnect"); n != 1 {
		t.Errorf("reconnect events = %d, want 1", n)
	}
	for _, e := range rec.Events() {
		if e.Kind == "reconnect" && e.Delay != 10*time.Millisecond {
			t.Errorf("reconnect delay = %v, want 10ms", e.Delay)
		}
	}
	if ch := <-subscribed; ch != "btcusdt@bookTicker" {
		t.Errorf("subscribed to %q", ch)
	}
}

func TestAdapter_RunBacksOffWhenUnreachable(t *testing.T) {
	// Nothing listens on this server once it's closed.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	rec := &emitter.Recorder{}
	a, err := New(Config{
		URL:     url,
		Backoff: backoff.Policy{Initial: time.Millisecond, Max: 4 * time.Millisecond},
	}, rec)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx, func(model.Frame) {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() returned %v, want context.DeadlineExceeded", err)
	}

	var delays []time.Duration
	for _, e := range rec.Events() {
		if e.Kind == "reconnect" {
			delays = append(delays, e.Delay)
		}
	}
	if len(delays) < 4 {
		t.Fatalf("got %d reconnect attempts, want at least 4", len(delays))
	}
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond}
	for i, w := range want {
		if delays[i] != w {
			t.Errorf("delay %d = %v, want %v", i, delays[i], w)
		}
	}
	if rec.Count("connect") != 0 {
		t.Errorf("unexpected connect event")
	}
}
