package pulseflow

import (
	base "github.com/ghalamif/PulseFlow/pkg/pulseflow"
)

// Re-exported errors for convenience.
var (
	ErrRelayClosed      = base.ErrRelayClosed
	ErrDecode           = base.ErrDecode
	ErrDelivery         = base.ErrDelivery
	ErrInvalidConfig    = base.ErrInvalidConfig
	ErrSubscriberClosed = base.ErrSubscriberClosed
)

// NoSequence marks an event without a producer sequence number.
const NoSequence = base.NoSequence

// Type aliases so consumers can import github.com/ghalamif/PulseFlow directly.
type (
	Config          = base.Config
	Policy          = base.Policy
	HTTPConfig      = base.HTTPConfig
	MetricsConfig   = base.MetricsConfig
	LogConfig       = base.LogConfig
	MQTTConfig      = base.MQTTConfig
	RedisConfig     = base.RedisConfig
	TimescaleConfig = base.TimescaleConfig
	Flow            = base.Flow
	StreamInOption  = base.StreamInOption
	StreamOutOption = base.StreamOutOption
	Relay           = base.Relay
	Option          = base.Option
	Event           = base.Event
	Frame           = base.Frame
	Snapshot        = base.Snapshot
	Subscriber      = base.Subscriber
	FrameCallback   = base.FrameCallback
	Collector       = base.Collector
	FrameHandler    = base.FrameHandler
	Decoder         = base.Decoder
	Clock           = base.Clock
	Observability   = base.Observability
	Field           = base.Field
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

// Flow builder helpers.
func Conf(path string, opts ...Option) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...Option) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func StreamInCollector(col Collector) StreamInOption {
	return base.StreamInCollector(col)
}

func StreamInMQTT(broker, topic string) StreamInOption {
	return base.StreamInMQTT(broker, topic)
}

func StreamOutSubscriber(sub Subscriber) StreamOutOption {
	return base.StreamOutSubscriber(sub)
}

func StreamOutCallback(id string, fn FrameCallback) StreamOutOption {
	return base.StreamOutCallback(id, fn)
}

func StreamOutRedis(addr, stream string) StreamOutOption {
	return base.StreamOutRedis(addr, stream)
}

func StreamOutTimescale(connString string) StreamOutOption {
	return base.StreamOutTimescale(connString)
}

// Relay and options.
func NewRelay(cfg *Config, opts ...Option) (*Relay, error) {
	return base.NewRelay(cfg, opts...)
}

func WithSubscriber(sub Subscriber) Option {
	return base.WithSubscriber(sub)
}

func WithCollector(col Collector) Option {
	return base.WithCollector(col)
}

func WithObservability(obs Observability) Option {
	return base.WithObservability(obs)
}

func WithClock(c Clock) Option {
	return base.WithClock(c)
}

func WithDecoder(d Decoder) Option {
	return base.WithDecoder(d)
}

// Subscriber adapters.
func NewCallbackSubscriber(id string, fn FrameCallback) Subscriber {
	return base.NewCallbackSubscriber(id, fn)
}

func NewChannelSubscriber(id string, buffer int) (Subscriber, <-chan Frame, func()) {
	return base.NewChannelSubscriber(id, buffer)
}
