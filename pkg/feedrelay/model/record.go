package model

import "time"

// Record is a single finalized latency measurement.
type Record struct {
	SequenceID        uint64 `json:"sequence_id"`
	UpstreamEventTime int64  `json:"upstream_event_time"`
	// RelayReceiptTime is only set for envelopes that crossed the relay.
	RelayReceiptTime     *int64 `json:"relay_receipt_time,omitempty"`
	CollectorReceiptTime int64  `json:"collector_receipt_time"`

	EndToEndLatencyMS float64 `json:"end_to_end_latency_ms"`
	// RelayHopLatencyMS is set iff RelayReceiptTime is set.
	RelayHopLatencyMS *float64 `json:"relay_hop_latency_ms,omitempty"`
}

// EndToEndLatencyMS returns the latency between the upstream event time (ms)
// and the collector receipt time (ns), in milliseconds. The difference is
// taken in integer nanoseconds: epoch nanoseconds do not fit a float64
// mantissa.
func EndToEndLatencyMS(upstreamEventTime, collectorReceiptTime int64) float64 {
	return float64(collectorReceiptTime-upstreamEventTime*int64(time.Millisecond)) / 1e6
}

// RelayHopLatencyMS returns the latency between two nanosecond timestamps,
// in milliseconds.
func RelayHopLatencyMS(relayReceiptTime, collectorReceiptTime int64) float64 {
	return float64(collectorReceiptTime-relayReceiptTime) / 1e6
}

// NewDirectRecord returns a Record for an event the collector received
// straight from the upstream feed.
func NewDirectRecord(seq uint64, upstreamEventTime, collectorReceiptTime int64) Record {
	return Record{
		SequenceID:           seq,
		UpstreamEventTime:    upstreamEventTime,
		CollectorReceiptTime: collectorReceiptTime,
		EndToEndLatencyMS:    EndToEndLatencyMS(upstreamEventTime, collectorReceiptTime),
	}
}

// NewRelayedRecord returns a Record for an event that crossed the relay hop.
func NewRelayedRecord(seq uint64, upstreamEventTime, relayReceiptTime,
	collectorReceiptTime int64) Record {
	r := NewDirectRecord(seq, upstreamEventTime, collectorReceiptTime)
	hop := RelayHopLatencyMS(relayReceiptTime, collectorReceiptTime)
	r.RelayReceiptTime = &relayReceiptTime
	r.RelayHopLatencyMS = &hop
	return r
}

// NewRecord converts a Delivery into a Record.
func NewRecord(d Delivery) Record {
	env := d.Envelope
	if d.Relayed {
		return NewRelayedRecord(env.SequenceID, env.UpstreamEventTime,
			env.ReceiptTime, d.CollectorReceiptTime)
	}
	return NewDirectRecord(env.SequenceID, env.UpstreamEventTime,
		d.CollectorReceiptTime)
}
