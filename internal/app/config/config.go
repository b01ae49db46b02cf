package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/PulseFlow/internal/adapters/mqtt"
	"github.com/ghalamif/PulseFlow/internal/domain"
	"github.com/ghalamif/PulseFlow/internal/ports"
)

type Config struct {
	Relay     ports.Policy    `yaml:"relay"`
	HTTP      HTTPConfig      `yaml:"http"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
	MQTT      mqtt.Config     `yaml:"mqtt"`
	Redis     RedisConfig     `yaml:"redis"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RedisConfig enables the stream archive subscriber when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

// TimescaleConfig enables the hypertable archive subscriber when ConnString is set.
type TimescaleConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes YAML over the defaults and validates. Keys present in the
// document win, including explicit zeros such as window_ms: 0.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}

	if cfg.MQTT.Enabled() {
		cfg.MQTT.ApplyDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

func (c *Config) ApplyDefaults() {
	if c.Relay.WindowMs == 0 {
		c.Relay.WindowMs = 300
	}
	if c.Relay.DrainInterval == 0 {
		c.Relay.DrainInterval = 50 * time.Millisecond
	}
	if c.Relay.WriteTimeout == 0 {
		c.Relay.WriteTimeout = time.Second
	}
	if c.Relay.PingInterval == 0 {
		c.Relay.PingInterval = 20 * time.Second
	}
	if c.Relay.MaxFrameBytes == 0 {
		c.Relay.MaxFrameBytes = 64 << 10
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8000"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "pulse:frames"
	}
	if c.Redis.MaxLen == 0 {
		c.Redis.MaxLen = 100_000
	}
	if c.Timescale.Table == "" {
		c.Timescale.Table = "pulse_frames"
	}

	if c.MQTT.Enabled() {
		c.MQTT.ApplyDefaults()
	}
}

func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	r := c.Relay
	if r.WindowMs < 0 {
		return fmt.Errorf("relay.window_ms must be >= 0, got %d", r.WindowMs)
	}
	if r.MaxRetainedLatencySamples < 0 {
		return fmt.Errorf("relay.max_retained_latency_samples must be >= 0, got %d", r.MaxRetainedLatencySamples)
	}
	if r.SourceIdleTTL < 0 {
		return fmt.Errorf("relay.source_idle_ttl must be >= 0, got %s", r.SourceIdleTTL)
	}
	if r.SourceIdleTTL > 0 && r.SourceIdleTTL <= r.Window() {
		return fmt.Errorf("relay.source_idle_ttl (%s) must exceed the window (%s)", r.SourceIdleTTL, r.Window())
	}
	if r.DrainInterval <= 0 {
		return fmt.Errorf("relay.drain_interval must be positive")
	}
	if r.WriteTimeout <= 0 {
		return fmt.Errorf("relay.write_timeout must be positive")
	}
	if r.PingInterval <= 0 {
		return fmt.Errorf("relay.ping_interval must be positive")
	}
	if r.MaxFrameBytes <= 0 {
		return fmt.Errorf("relay.max_frame_bytes must be positive")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	if c.MQTT.Enabled() {
		if err := c.MQTT.Validate(); err != nil {
			return fmt.Errorf("mqtt config: %w", err)
		}
	}
	if c.Redis.MaxLen < 0 {
		return fmt.Errorf("redis.max_len must be >= 0")
	}
	return nil
}
