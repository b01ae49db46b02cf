package pulseflow

import (
	"github.com/ghalamif/PulseFlow/internal/app/stats"
	"github.com/ghalamif/PulseFlow/internal/domain"
	"github.com/ghalamif/PulseFlow/internal/ports"
)

// Event is one telemetry sample as accepted by the relay.
type Event = domain.Event

// Frame is the record delivered to subscribers.
type Frame = domain.Frame

// Snapshot is the delivery-quality summary of one source.
type Snapshot = stats.Snapshot

// Subscriber receives every emitted frame until it fails or is removed.
type Subscriber = ports.Subscriber

// Collector feeds raw frames from a connectionless transport (MQTT, simulators, etc.).
type Collector = ports.Collector

// FrameHandler is what a Collector hands each raw frame to.
type FrameHandler = ports.FrameHandler

// Decoder turns a raw frame into an Event.
type Decoder = ports.Decoder

// Clock supplies receive timestamps.
type Clock = ports.Clock

// Observability emits metrics and logs about throughput, latency and drops.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// NoSequence marks an event without a producer sequence number.
const NoSequence = domain.NoSequence

var (
	ErrDecode           = domain.ErrDecode
	ErrDelivery         = domain.ErrDelivery
	ErrInvalidConfig    = domain.ErrInvalidConfig
	ErrSubscriberClosed = domain.ErrSubscriberClosed
)
