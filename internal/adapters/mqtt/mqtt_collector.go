package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ghalamif/PulseFlow/internal/ports"
)

// Config captures the broker connection and the topic producers publish to.
type Config struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Topic          string        `yaml:"topic"`
	QoS            byte          `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Enabled reports whether a broker is configured.
func (c *Config) Enabled() bool { return c.Broker != "" }

func (c *Config) ApplyDefaults() {
	if c.Topic == "" {
		c.Topic = "pulse/+/events"
	}
	if c.ClientID == "" {
		c.ClientID = "pulse-relay-" + uuid.NewString()[:8]
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Broker == "" {
		return errors.New("broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", c.QoS)
	}
	return nil
}

// ClientFactory builds the paho client. Tests swap it for a fake broker.
type ClientFactory func(opts *paho.ClientOptions) paho.Client

// Collector subscribes to the producer topic and hands every message payload
// to the pipeline as one frame.
type Collector struct {
	cfg       Config
	log       *zap.Logger
	newClient ClientFactory

	mu      sync.Mutex
	client  paho.Client
	started bool
}

func NewCollector(cfg Config, logger *zap.Logger) (*Collector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{cfg: cfg, log: logger, newClient: paho.NewClient}, nil
}

// WithClientFactory replaces the paho client constructor.
func (c *Collector) WithClientFactory(f ClientFactory) *Collector {
	c.newClient = f
	return c
}

func (c *Collector) Name() string { return "mqtt" }

func (c *Collector) Start(handle ports.FrameHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("mqtt collector already started")
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
	}
	if c.cfg.Password != "" {
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warn("mqtt_connection_lost", zap.String("broker", c.cfg.Broker), zap.Error(err))
	})

	onMessage := func(_ paho.Client, msg paho.Message) {
		handle(msg.Payload())
	}
	// resubscribe after every reconnect since the session is clean
	opts.SetOnConnectHandler(func(cl paho.Client) {
		tok := cl.Subscribe(c.cfg.Topic, c.cfg.QoS, onMessage)
		if tok.WaitTimeout(c.cfg.ConnectTimeout) && tok.Error() != nil {
			c.log.Error("mqtt_subscribe_failed", zap.String("topic", c.cfg.Topic), zap.Error(tok.Error()))
			return
		}
		c.log.Info("mqtt_subscribed", zap.String("topic", c.cfg.Topic))
	})

	client := c.newClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt connect %s: timed out", c.cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", c.cfg.Broker, err)
	}

	c.client = client
	c.started = true
	return nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false

	tok := c.client.Unsubscribe(c.cfg.Topic)
	tok.WaitTimeout(time.Second)
	err := tok.Error()
	c.client.Disconnect(250)
	c.client = nil
	if err != nil {
		return fmt.Errorf("mqtt unsubscribe: %w", err)
	}
	return nil
}

var _ ports.Collector = (*Collector)(nil)
