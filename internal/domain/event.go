package domain

// NoSequence marks an event whose producer did not send a sequence number.
const NoSequence int64 = -1

// UnknownSource is used when a frame carries no source identifier.
const UnknownSource = "unknown"

// Event is one telemetry sample as seen by the relay.
type Event struct {
	SourceID     string             `json:"source_id"`
	Sequence     int64              `json:"sequence"`
	SentAtMs     int64              `json:"sent_at_ms"`
	ReceivedAtMs int64              `json:"received_at_ms"`
	Fields       map[string]float64 `json:"fields"`
}

// LatencyMs is the one-way delay observed for the event. Producer clocks are not
// synchronized with ours, so the value may be negative.
func (e *Event) LatencyMs() int64 {
	return e.ReceivedAtMs - e.SentAtMs
}

// HasSequence reports whether the producer supplied a sequence number.
func (e *Event) HasSequence() bool {
	return e.Sequence != NoSequence
}

// Frame is the record fanned out to subscribers, one per emitted event.
type Frame struct {
	SourceID     string             `json:"source_id"`
	Sequence     int64              `json:"sequence"`
	SentAtMs     int64              `json:"sent_at_ms"`
	ReceivedAtMs int64              `json:"received_at_ms"`
	LatencyMs    int64              `json:"latency_ms"`
	Fields       map[string]float64 `json:"fields"`
}

// FrameFromEvent builds the outbound frame for an emitted event.
func FrameFromEvent(e *Event) *Frame {
	return &Frame{
		SourceID:     e.SourceID,
		Sequence:     e.Sequence,
		SentAtMs:     e.SentAtMs,
		ReceivedAtMs: e.ReceivedAtMs,
		LatencyMs:    e.LatencyMs(),
		Fields:       e.Fields,
	}
}
