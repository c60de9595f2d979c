package model

import (
	"encoding/json"
	"errors"
	"math"
	"time"
)

// MaxEventTime is the largest event time (ms since epoch) whose nanosecond
// value fits an int64.
const MaxEventTime = math.MaxInt64 / int64(time.Millisecond)

var (
	// ErrMissingEventTime is returned when an upstream frame does not carry
	// a positive event time.
	ErrMissingEventTime = errors.New("missing upstream event time")

	// ErrNotAnEvent is returned for well-formed control frames (e.g.
	// subscription acknowledgements) which carry no market data.
	ErrNotAnEvent = errors.New("control frame")

	// ErrEventTimeOutOfRange is returned for event times beyond MaxEventTime.
	ErrEventTimeOutOfRange = errors.New("upstream event time out of range")
)

// RawEvent is a decoded upstream market-data event. Only EventTime is
// interpreted; every other field is carried through untouched.
type RawEvent struct {
	// EventType is the upstream event type (e.g. "bookTicker").
	EventType string `json:"e,omitempty"`
	// UpdateID is the upstream order book update id.
	UpdateID int64 `json:"u,omitempty"`
	// EventTime is the producer-declared event time (ms since epoch).
	EventTime int64 `json:"E"`
	// TransactionTime is the upstream transaction time (ms since epoch).
	TransactionTime int64 `json:"T,omitempty"`
	// Symbol is the instrument symbol.
	Symbol string `json:"s,omitempty"`

	BestBidPrice string `json:"b,omitempty"`
	BestBidQty   string `json:"B,omitempty"`
	BestAskPrice string `json:"a,omitempty"`
	BestAskQty   string `json:"A,omitempty"`

	// Raw is the verbatim upstream frame.
	Raw []byte `json:"-"`
}

// controlFrame matches subscription acknowledgements such as
// {"result":null,"id":1}.
type controlFrame struct {
	Result json.RawMessage `json:"result"`
	ID     *int64          `json:"id"`
}

// DecodeRawEvent decodes an upstream text frame. The returned RawEvent keeps
// a reference to data in its Raw field.
func DecodeRawEvent(data []byte) (RawEvent, error) {
	var ev RawEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return RawEvent{}, err
	}
	if ev.EventTime <= 0 {
		var cf controlFrame
		if json.Unmarshal(data, &cf) == nil && cf.ID != nil {
			return RawEvent{}, ErrNotAnEvent
		}
		return RawEvent{}, ErrMissingEventTime
	}
	if ev.EventTime > MaxEventTime {
		return RawEvent{}, ErrEventTimeOutOfRange
	}
	ev.Raw = data
	return ev, nil
}

// Frame is a decoded upstream event together with the wall-clock time (ns
// since epoch) at which the frame was read off the connection.
type Frame struct {
	ReceivedAt int64
	Event      RawEvent
}
