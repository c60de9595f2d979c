// Package relay implements the forwarder-to-collector relay hop: a
// newline-delimited JSON stream of envelopes over a single TCP connection.
package relay

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/m-lab/feedrelay/pkg/feedrelay/model"
	"github.com/m-lab/feedrelay/pkg/feedrelay/spec"
)

// ErrMalformedFrame is returned for frames that cannot be decoded. The
// stream remains usable: the next frame can be read.
var ErrMalformedFrame = errors.New("malformed frame")

// Marshal returns env as a single newline-terminated frame.
func Marshal(env model.Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// wireEnvelope tells absent fields apart from zero values.
type wireEnvelope struct {
	SequenceID        *uint64 `json:"sequence_id"`
	ReceiptTime       *int64  `json:"relay_receipt_time"`
	UpstreamEventTime *int64  `json:"upstream_event_time"`
	Payload           string  `json:"payload"`
}

// DecodeEnvelope decodes a single frame, without its trailing newline. The
// sequence id and both timestamps are required; timestamps must be positive
// and the upstream event time must not exceed model.MaxEventTime.
func DecodeEnvelope(line []byte) (model.Envelope, error) {
	var w *wireEnvelope
	if err := json.Unmarshal(line, &w); err != nil {
		return model.Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch {
	case w == nil:
		return model.Envelope{}, fmt.Errorf("%w: null frame", ErrMalformedFrame)
	case w.SequenceID == nil:
		return model.Envelope{}, fmt.Errorf("%w: missing sequence_id", ErrMalformedFrame)
	case w.ReceiptTime == nil:
		return model.Envelope{}, fmt.Errorf("%w: missing relay_receipt_time", ErrMalformedFrame)
	case w.UpstreamEventTime == nil:
		return model.Envelope{}, fmt.Errorf("%w: missing upstream_event_time", ErrMalformedFrame)
	case *w.ReceiptTime <= 0:
		return model.Envelope{}, fmt.Errorf("%w: relay_receipt_time %d", ErrMalformedFrame, *w.ReceiptTime)
	case *w.UpstreamEventTime <= 0 || *w.UpstreamEventTime > model.MaxEventTime:
		return model.Envelope{}, fmt.Errorf("%w: upstream_event_time %d", ErrMalformedFrame, *w.UpstreamEventTime)
	}
	return model.Envelope{
		SequenceID:        *w.SequenceID,
		ReceiptTime:       *w.ReceiptTime,
		UpstreamEventTime: *w.UpstreamEventTime,
		Payload:           w.Payload,
	}, nil
}

// Decoder reads newline-delimited frames from a stream.
type Decoder struct {
	r   *bufio.Reader
	max int
}

// NewDecoder returns a Decoder reading from r. Frames longer than
// spec.MaxFrameSize are skipped.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   bufio.NewReaderSize(r, spec.MaxFrameSize),
		max: spec.MaxFrameSize,
	}
}

// ReadFrame returns the next frame without its trailing newline. The
// returned slice is only valid until the next call. An oversized frame is
// discarded and reported as ErrMalformedFrame. A frame truncated by the end
// of the stream is reported as io.ErrUnexpectedEOF.
func (d *Decoder) ReadFrame() ([]byte, error) {
	line, err := d.r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		for err == bufio.ErrBufferFull {
			_, err = d.r.ReadSlice('\n')
		}
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrMalformedFrame, d.max)
	}
	if err == io.EOF && len(line) > 0 {
		return nil, io.ErrUnexpectedEOF
	}
	if err != nil {
		return nil, err
	}
	return line[:len(line)-1], nil
}
