package pulseflow

import (
	"context"
	"fmt"
)

// Flow reads a relay setup left to right: Conf picks the configuration,
// StreamIN names where frames come from and StreamOUT where they go.
type Flow struct {
	cfg  *Config
	opts []Option
}

// StreamInOption adds a producer side to the relay.
type StreamInOption func(*Flow)

// StreamOutOption adds a delivery side to the relay.
type StreamOutOption func(*Flow)

// Conf loads YAML from disk and starts a Flow on it.
func Conf(path string, opts ...Option) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig starts a Flow on an in-memory Config. opts are handed to
// NewRelay unchanged.
func ConfFromConfig(cfg *Config, opts ...Option) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	f := &Flow{cfg: cfg}
	f.add(opts...)
	return f, nil
}

func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// StreamOUT applies the delivery options and builds the relay.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Relay, error) {
	if f == nil {
		return nil, fmt.Errorf("flow is nil")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return NewRelay(f.cfg, f.opts...)
}

// Run builds the relay and runs it until ctx is done.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	r, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return r.Run(ctx)
}

// StreamInCollector feeds frames from a custom transport.
func StreamInCollector(col Collector) StreamInOption {
	return func(f *Flow) {
		if col != nil {
			f.add(WithCollector(col))
		}
	}
}

// StreamInMQTT subscribes to topic on broker. An empty topic keeps the
// configured one.
func StreamInMQTT(broker, topic string) StreamInOption {
	return func(f *Flow) {
		f.cfg.MQTT.Broker = broker
		if topic != "" {
			f.cfg.MQTT.Topic = topic
		}
		f.cfg.MQTT.ApplyDefaults()
	}
}

func StreamOutSubscriber(sub Subscriber) StreamOutOption {
	return func(f *Flow) {
		if sub != nil {
			f.add(WithSubscriber(sub))
		}
	}
}

// StreamOutCallback delivers every frame to fn under id.
func StreamOutCallback(id string, fn FrameCallback) StreamOutOption {
	return StreamOutSubscriber(NewCallbackSubscriber(id, fn))
}

// StreamOutRedis archives frames into stream on the Redis server at addr.
// An empty stream keeps the configured one.
func StreamOutRedis(addr, stream string) StreamOutOption {
	return func(f *Flow) {
		f.cfg.Redis.Addr = addr
		if stream != "" {
			f.cfg.Redis.Stream = stream
		}
	}
}

// StreamOutTimescale archives frames into the database at connString.
func StreamOutTimescale(connString string) StreamOutOption {
	return func(f *Flow) {
		f.cfg.Timescale.ConnString = connString
	}
}

func (f *Flow) add(opts ...Option) {
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}
