package pulseflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestConfFromConfigAndStreamBuilder(t *testing.T) {
	cfg := testConfig()
	dec := &stubDecoder{}

	flow, err := ConfFromConfig(cfg, WithLogger(zap.NewNop()), WithDecoder(dec))
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}
	if flow.Config() != cfg {
		t.Fatalf("expected Config to be returned verbatim")
	}

	col := &stubCollector{}
	sub := NewCallbackSubscriber("cb", func(context.Context, Frame) error { return nil })

	r, err := flow.
		StreamIN(StreamInCollector(col)).
		StreamOUT(
			StreamOutSubscriber(sub),
			StreamOutCallback("second", func(context.Context, Frame) error { return nil }),
		)
	if err != nil {
		t.Fatalf("StreamOUT returned error: %v", err)
	}
	if len(r.collectors) != 1 || r.collectors[0] != col {
		t.Fatalf("expected custom collector to be wired")
	}
	if len(r.archives) != 2 || r.archives[0] != sub || r.archives[1].ID() != "second" {
		t.Fatalf("expected both subscribers to be wired")
	}
	if r.decoder != dec {
		t.Fatalf("expected Conf options to reach the relay")
	}
}

func TestStreamBuilderEnablesTransportsAndArchives(t *testing.T) {
	flow, err := ConfFromConfig(testConfig(), WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}

	r, err := flow.
		StreamIN(StreamInMQTT("tcp://127.0.0.1:1883", "")).
		StreamOUT(
			StreamOutRedis("127.0.0.1:6379", "ward:frames"),
			StreamOutTimescale("postgres://pulse@127.0.0.1/pulse?sslmode=disable"),
		)
	if err != nil {
		t.Fatalf("StreamOUT returned error: %v", err)
	}
	defer r.db.Close()
	defer r.redis.Close()

	cfg := flow.Config()
	if cfg.MQTT.Topic != "pulse/+/events" {
		t.Fatalf("expected default topic, got %q", cfg.MQTT.Topic)
	}
	if cfg.Redis.Stream != "ward:frames" {
		t.Fatalf("expected stream override, got %q", cfg.Redis.Stream)
	}
	if len(r.collectors) != 1 || r.collectors[0].Name() != "mqtt" {
		t.Fatalf("expected the MQTT collector to be wired")
	}
	if len(r.archives) != 2 || r.db == nil || r.redis == nil {
		t.Fatalf("expected Timescale and Redis archives, got %d", len(r.archives))
	}
}

func TestConfLoadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	data := "relay:\n  window_ms: 150\nhttp:\n  addr: 127.0.0.1:0\nmetrics:\n  addr: 127.0.0.1:0\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	flow, err := Conf(path)
	if err != nil {
		t.Fatalf("Conf: %v", err)
	}
	if flow.Config().Relay.WindowMs != 150 {
		t.Fatalf("expected window 150, got %d", flow.Config().Relay.WindowMs)
	}
}

func TestFlowRunUsesStreamOutOptions(t *testing.T) {
	flow, err := ConfFromConfig(testConfig(), WithLogger(zap.NewNop()), WithObservability(&stubObservability{}))
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	// stop immediately; Run still starts and shuts down cleanly
	cancel()
	if err := flow.StreamIN(StreamInCollector(&stubCollector{})).Run(ctx,
		StreamOutCallback("cb", func(context.Context, Frame) error { return nil }),
	); err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
}
