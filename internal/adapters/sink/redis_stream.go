package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/ghalamif/PulseFlow/internal/domain"
	"github.com/ghalamif/PulseFlow/internal/ports"
)

// RedisStreamSubscriber appends every delivered frame to a Redis stream,
// trimming it to roughly maxLen entries.
type RedisStreamSubscriber struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSubscriber does not take ownership of client.
func NewRedisStreamSubscriber(client *redis.Client, stream string, maxLen int64) *RedisStreamSubscriber {
	return &RedisStreamSubscriber{client: client, stream: stream, maxLen: maxLen}
}

func (r *RedisStreamSubscriber) ID() string { return "redis:" + r.stream }

func (r *RedisStreamSubscriber) Deliver(ctx context.Context, f *domain.Frame) error {
	fields, err := json.Marshal(f.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"source_id":      f.SourceID,
			"sequence":       f.Sequence,
			"sent_at_ms":     f.SentAtMs,
			"received_at_ms": f.ReceivedAtMs,
			"latency_ms":     f.LatencyMs,
			"fields":         string(fields),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", r.stream, err)
	}
	return nil
}

func (r *RedisStreamSubscriber) Close() error { return nil }

var _ ports.Subscriber = (*RedisStreamSubscriber)(nil)
