package model

// Envelope is the unit crossing the relay transport. One Envelope is
// created for each decoded upstream event on the node that received it.
type Envelope struct {
	// SequenceID is assigned in arrival order, starting at
	// spec.SequenceOrigin and incremented by exactly one per event.
	SequenceID uint64 `json:"sequence_id"`
	// ReceiptTime is the wall-clock time (ns since epoch) at which the
	// stamping node read the upstream frame.
	ReceiptTime int64 `json:"relay_receipt_time"`
	// UpstreamEventTime is the producer-declared event time (ms since
	// epoch).
	UpstreamEventTime int64 `json:"upstream_event_time"`
	// Payload is the verbatim upstream frame.
	Payload string `json:"payload"`
}

// Delivery is an Envelope as observed by the collector.
type Delivery struct {
	Envelope Envelope
	// CollectorReceiptTime is the wall-clock time (ns since epoch) at which
	// the envelope was fully available at the collector.
	CollectorReceiptTime int64
	// Relayed is true when Envelope.ReceiptTime was captured by a forwarder
	// on the other side of the relay hop.
	Relayed bool
}

// NewDirectDelivery returns the Delivery of an envelope stamped by the
// collector itself: the stamping time is the collector receipt time.
func NewDirectDelivery(env Envelope) Delivery {
	return Delivery{
		Envelope:             env,
		CollectorReceiptTime: env.ReceiptTime,
	}
}
