package relay

import (
	"bytes"
	"errors"
	"testing"
)

// limitedWriter accepts up to limit bytes, then fails.
type limitedWriter struct {
	buf   bytes.Buffer
	limit int
}

var errLimit = errors.New("write limit reached")

func (l *limitedWriter) Write(p []byte) (int, error) {
	room := l.limit - l.buf.Len()
	if len(p) > room {
		l.buf.Write(p[:room])
		return room, errLimit
	}
	return l.buf.Write(p)
}

func TestBatchWriter_CountsEachFlush(t *testing.T) {
	lw := &limitedWriter{limit: 1000}
	var flushes []int64
	w := newBatchWriter(lw, 256, func(n int64) {
		flushes = append(flushes, n)
	})
	frame := bytes.Repeat([]byte("x"), 99)
	frame = append(frame, '\n')

	// Two frames fit the buffer. The third one flushes the first two, and
	// so on: the writer accepts exactly ten frames, and the flush carrying
	// frames 11 and 12 fails while writing frame 13.
	var err error
	written := 0
	for written < 20 {
		if err = w.WriteFrame(frame); err != nil {
			break
		}
		written++
	}
	if !errors.Is(err, errLimit) {
		t.Fatalf("WriteFrame() = %v, want %v", err, errLimit)
	}
	if written != 12 {
		t.Errorf("failed on frame %d, want 13", written+1)
	}
	total := int64(0)
	for _, n := range flushes {
		if n != 2 {
			t.Errorf("flush carried %d frames, want 2", n)
		}
		total += n
	}
	if total != 10 {
		t.Errorf("flushed %d frames, want 10", total)
	}
	if w.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3", w.Pending())
	}
	if total+w.Pending() != int64(written+1) {
		t.Errorf("flushed + pending = %d, want %d", total+w.Pending(), written+1)
	}
}

func TestBatchWriter_Flush(t *testing.T) {
	buf := &bytes.Buffer{}
	flushed := int64(0)
	w := newBatchWriter(buf, 0, func(n int64) {
		flushed += n
	})
	for i := 0; i < 3; i++ {
		if err := w.WriteFrame([]byte("{}\n")); err != nil {
			t.Fatalf("WriteFrame() failed: %v", err)
		}
	}
	if flushed != 0 || w.Pending() != 3 || buf.Len() != 0 {
		t.Fatalf("flushed = %d, Pending() = %d, written = %d, want 0, 3, 0",
			flushed, w.Pending(), buf.Len())
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if flushed != 3 || w.Pending() != 0 || buf.String() != "{}\n{}\n{}\n" {
		t.Errorf("flushed = %d, Pending() = %d, written = %q", flushed,
			w.Pending(), buf.String())
	}
	// Flushing an empty buffer reports nothing.
	if err := w.Flush(); err != nil || flushed != 3 {
		t.Errorf("Flush() = %v, flushed = %d, want nil, 3", err, flushed)
	}
}

func TestBatchWriter_LargeFrame(t *testing.T) {
	buf := &bytes.Buffer{}
	var flushes []int64
	w := newBatchWriter(buf, 16, func(n int64) {
		flushes = append(flushes, n)
	})
	if err := w.WriteFrame([]byte("{}\n")); err != nil {
		t.Fatalf("WriteFrame() failed: %v", err)
	}
	// A frame larger than the buffer flushes what's buffered, then is
	// written through.
	large := append(bytes.Repeat([]byte("y"), 40), '\n')
	if err := w.WriteFrame(large); err != nil {
		t.Fatalf("WriteFrame() failed: %v", err)
	}
	if len(flushes) != 2 || flushes[0] != 1 || flushes[1] != 1 {
		t.Errorf("flushes = %v, want [1 1]", flushes)
	}
	if w.Pending() != 0 || buf.Len() != 3+len(large) {
		t.Errorf("Pending() = %d, written = %d", w.Pending(), buf.Len())
	}
}
