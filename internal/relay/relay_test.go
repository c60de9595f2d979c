package relay_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/m-lab/feedrelay/internal/backoff"
	"github.com/m-lab/feedrelay/internal/collector"
	"github.com/m-lab/feedrelay/internal/emitter"
	"github.com/m-lab/feedrelay/internal/netx"
	"github.com/m-lab/feedrelay/internal/relay"
	"github.com/m-lab/feedrelay/pkg/feedrelay/model"
	"github.com/m-lab/feedrelay/pkg/feedrelay/spec"
	"github.com/m-lab/go/rtx"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testBackoff = backoff.Policy{
	Initial: 10 * time.Millisecond,
	Max:     50 * time.Millisecond,
}

// startReceiver starts a Receiver on a local port. The returned function
// stops it and waits for Serve to return.
func startReceiver(t *testing.T, rec emitter.Emitter) (*relay.Receiver, chan model.Delivery, func()) {
	ln, err := netx.Listen("127.0.0.1:0")
	rtx.Must(err, "failed to create listener")
	r := relay.NewReceiver(ln, rec)
	out := make(chan model.Delivery, spec.DeliveryBufferSize)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- r.Serve(ctx, out)
	}()
	return r, out, func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() returned %v, want context.Canceled", err)
		}
	}
}

func frame(seq uint64) []byte {
	b, err := relay.Marshal(model.Envelope{
		SequenceID:        seq,
		ReceiptTime:       time.Now().UnixNano(),
		UpstreamEventTime: time.Now().UnixMilli(),
		Payload:           "{}",
	})
	rtx.Must(err, "failed to encode envelope")
	return b
}

func receive(t *testing.T, out <-chan model.Delivery) model.Delivery {
	select {
	case d := <-out:
		return d
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a delivery")
	}
	return model.Delivery{}
}

// Envelopes 1, 2, 4 and 5 cross the relay: envelope 3 is lost upstream of
// the sender.
func TestRelay_Loss(t *testing.T) {
	rec := &emitter.Recorder{}
	r, out, stop := startReceiver(t, rec)
	defer stop()

	s := relay.NewSender(relay.SenderConfig{
		Addr:      r.Addr().String(),
		Backoff:   testBackoff,
		QueueSize: 100,
	}, rec)
	for _, id := range []uint64{1, 2, 4, 5} {
		s.Enqueue(model.Envelope{
			SequenceID:        id,
			ReceiptTime:       time.Now().UnixNano(),
			UpstreamEventTime: time.Now().UnixMilli(),
			Payload:           `{"E":1}`,
		})
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- s.Run(ctx)
	}()

	a := collector.NewAggregator(spec.ModeRelayed)
	res := a.Run(context.Background(), out,
		collector.Window{Duration: 10 * time.Second, Count: 4}, rec)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() returned %v, want context.Canceled", err)
	}

	if res.Summary.SampleCount != 4 {
		t.Fatalf("SampleCount = %d, want 4", res.Summary.SampleCount)
	}
	if res.Summary.EventsLost != 1 {
		t.Errorf("EventsLost = %d, want 1", res.Summary.EventsLost)
	}
	if res.Summary.Backbone == nil {
		t.Errorf("Backbone is nil in relayed mode")
	}
	for _, record := range res.Records {
		if record.RelayReceiptTime == nil || record.RelayHopLatencyMS == nil {
			t.Errorf("relayed record without hop fields: %+v", record)
		}
	}
	if s.Sent() != 4 || s.Dropped() != 0 {
		t.Errorf("Sent() = %d, Dropped() = %d, want 4, 0", s.Sent(), s.Dropped())
	}
	for _, ev := range rec.Events() {
		if ev.Kind == "connect" && ev.UUID == "" {
			t.Errorf("connect event without uuid: %+v", ev)
		}
	}
}

func TestReceiver_Malformed(t *testing.T) {
	rec := &emitter.Recorder{}
	r, out, stop := startReceiver(t, rec)
	defer stop()

	c, err := net.Dial("tcp", r.Addr().String())
	rtx.Must(err, "failed to dial receiver")
	defer c.Close()
	c.Write([]byte("this is not json\n"))
	c.Write([]byte("{}\nnull\n" + `{"payload":"x"}` + "\n"))
	c.Write(frame(9))

	d := receive(t, out)
	if d.Envelope.SequenceID != 9 || !d.Relayed || d.CollectorReceiptTime <= 0 {
		t.Errorf("unexpected delivery: %+v", d)
	}
	if r.DecodeFailures() != 4 {
		t.Errorf("DecodeFailures() = %d, want 4", r.DecodeFailures())
	}
	if rec.Count("decode_failure") != 4 {
		t.Errorf("decode_failure events = %d, want 4", rec.Count("decode_failure"))
	}
	if r.Received() != 1 {
		t.Errorf("Received() = %d, want 1", r.Received())
	}
}

func TestReceiver_NewerConnectionReplacesOlder(t *testing.T) {
	rec := &emitter.Recorder{}
	r, out, stop := startReceiver(t, rec)
	defer stop()

	first, err := net.Dial("tcp", r.Addr().String())
	rtx.Must(err, "failed to dial receiver")
	defer first.Close()
	first.Write(frame(1))
	receive(t, out)

	second, err := net.Dial("tcp", r.Addr().String())
	rtx.Must(err, "failed to dial receiver")
	defer second.Close()
	second.Write(frame(2))
	if d := receive(t, out); d.Envelope.SequenceID != 2 {
		t.Errorf("got sequence id %d, want 2", d.Envelope.SequenceID)
	}

	// The older connection has been closed by the receiver.
	first.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := bufio.NewReader(first).ReadByte(); err == nil {
		t.Errorf("older connection is still open")
	}
	if r.Accepted() != 2 {
		t.Errorf("Accepted() = %d, want 2", r.Accepted())
	}

	// Each accepted connection is identified by its own uuid, which is
	// also reported on connect.
	ids := r.ConnectionUUIDs()
	if len(ids) != 2 || ids[0] == "" || ids[0] == ids[1] {
		t.Fatalf("ConnectionUUIDs() = %q, want two distinct uuids", ids)
	}
	var reported []string
	for _, ev := range rec.Events() {
		if ev.Kind == "connect" && ev.Component == emitter.RelayReceiver {
			reported = append(reported, ev.UUID)
		}
	}
	if len(reported) != 2 || reported[0] != ids[0] || reported[1] != ids[1] {
		t.Errorf("connect events reported uuids %q, want %q", reported, ids)
	}
}

func TestSender_DropOldest(t *testing.T) {
	rec := &emitter.Recorder{}
	s := relay.NewSender(relay.SenderConfig{Addr: "127.0.0.1:1", QueueSize: 2}, rec)
	for i := uint64(1); i <= 3; i++ {
		s.Enqueue(model.Envelope{SequenceID: i})
	}
	if s.Dropped() != 1 || s.Pending() != 2 {
		t.Errorf("Dropped() = %d, Pending() = %d, want 1, 2", s.Dropped(), s.Pending())
	}
	ev := rec.Events()
	if len(ev) != 1 || ev[0].Kind != "drop" || ev[0].Seq != 1 {
		t.Errorf("unexpected events: %+v", ev)
	}
}

func TestSender_Reconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	rtx.Must(err, "failed to create listener")
	defer ln.Close()

	lines := make(chan string, 10)
	go func() {
		// The first connection is closed after one frame.
		for i := 0; i < 2; i++ {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			br := bufio.NewReader(c)
			for {
				l, err := br.ReadString('\n')
				if err != nil {
					break
				}
				lines <- l
				if i == 0 {
					break
				}
			}
			c.Close()
		}
	}()

	rec := &emitter.Recorder{}
	s := relay.NewSender(relay.SenderConfig{
		Addr:    ln.Addr().String(),
		Backoff: testBackoff,
	}, rec)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- s.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	s.Enqueue(model.Envelope{SequenceID: 1})
	waitLine(t, lines)

	deadline := time.Now().Add(5 * time.Second)
	for rec.Count("connect") < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("sender did not reconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Enqueue(model.Envelope{SequenceID: 2})
	waitLine(t, lines)

	if rec.Count("disconnect") < 1 || rec.Count("reconnect") < 1 {
		t.Errorf("missing disconnect or reconnect events: %+v", rec.Events())
	}
}

func waitLine(t *testing.T, lines <-chan string) string {
	select {
	case l := <-lines:
		return l
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a frame")
	}
	return ""
}
