package ports

import "time"

type Policy struct {
	WindowMs                  int64         `yaml:"window_ms"`
	MaxRetainedLatencySamples int           `yaml:"max_retained_latency_samples"`
	SourceIdleTTL             time.Duration `yaml:"source_idle_ttl"`
	DrainInterval             time.Duration `yaml:"drain_interval"`
	WriteTimeout              time.Duration `yaml:"write_timeout"`
	PingInterval              time.Duration `yaml:"ping_interval"`
	MaxFrameBytes             int64         `yaml:"max_frame_bytes"`
}

// Window returns the delay window as a duration.
func (p Policy) Window() time.Duration {
	return time.Duration(p.WindowMs) * time.Millisecond
}
