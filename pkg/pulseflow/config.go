package pulseflow

import (
	"github.com/ghalamif/PulseFlow/internal/adapters/mqtt"
	"github.com/ghalamif/PulseFlow/internal/app/config"
	"github.com/ghalamif/PulseFlow/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy controls the reorder window, retention and delivery timeouts.
	Policy = ports.Policy
	// HTTPConfig configures the websocket and query listener.
	HTTPConfig = config.HTTPConfig
	// MetricsConfig configures the Prometheus HTTP server.
	MetricsConfig = config.MetricsConfig
	// LogConfig selects log level and encoding.
	LogConfig = config.LogConfig
	// MQTTConfig enables the MQTT producer transport.
	MQTTConfig = mqtt.Config
	// RedisConfig enables the Redis stream archive.
	RedisConfig = config.RedisConfig
	// TimescaleConfig enables the TimescaleDB archive.
	TimescaleConfig = config.TimescaleConfig
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns a configuration with every default applied and all
// optional transports and archives disabled.
func DefaultConfig() *Config {
	return config.Default()
}
