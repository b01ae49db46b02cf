package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/PulseFlow/internal/domain"
	"github.com/ghalamif/PulseFlow/internal/ports"
)

// PublishReport summarizes one Publish call.
type PublishReport struct {
	Delivered int
	Failed    []string
}

// Broadcaster delivers every emitted frame to all registered subscribers.
// Attempts run concurrently and each is bounded by the write timeout, so a slow
// or dead subscriber only costs itself. Failed subscribers are removed once all
// attempts of the call have finished.
type Broadcaster struct {
	registry     *Registry
	writeTimeout time.Duration
	obs          ports.Observability
}

func NewBroadcaster(reg *Registry, writeTimeout time.Duration, obs ports.Observability) *Broadcaster {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Broadcaster{registry: reg, writeTimeout: writeTimeout, obs: obs}
}

// Registry exposes the underlying subscriber set.
func (b *Broadcaster) Registry() *Registry { return b.registry }

// Subscribe adds sub. Subscribing the same id twice is a no-op.
func (b *Broadcaster) Subscribe(sub ports.Subscriber) {
	if b.registry.Add(sub) {
		b.obs.SetGauge("pulse_subscribers", float64(b.registry.Len()))
		b.obs.LogInfo("subscriber_added", ports.Field{Key: "subscriber", Value: sub.ID()})
	}
}

// Unsubscribe removes and closes the subscriber. Unknown ids are ignored.
func (b *Broadcaster) Unsubscribe(id string) {
	sub, ok := b.registry.Remove(id)
	if !ok {
		return
	}
	b.obs.SetGauge("pulse_subscribers", float64(b.registry.Len()))
	if err := sub.Close(); err != nil {
		b.obs.LogError("subscriber_close_failed", err, ports.Field{Key: "subscriber", Value: id})
	}
	b.obs.LogInfo("subscriber_removed", ports.Field{Key: "subscriber", Value: id})
}

// Publish hands f to every subscriber in the current snapshot.
func (b *Broadcaster) Publish(ctx context.Context, f *domain.Frame) PublishReport {
	subs := b.registry.Snapshot()
	if len(subs) == 0 {
		return PublishReport{}
	}

	start := time.Now()
	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub ports.Subscriber) {
			defer wg.Done()
			errs[i] = b.deliver(ctx, sub, f)
		}(i, sub)
	}
	wg.Wait()

	var report PublishReport
	for i, err := range errs {
		if err == nil {
			report.Delivered++
			continue
		}
		id := subs[i].ID()
		report.Failed = append(report.Failed, id)
		b.obs.IncCounter("pulse_delivery_failures_total", 1)
		b.obs.LogError("delivery_failed", err,
			ports.Field{Key: "subscriber", Value: id},
			ports.Field{Key: "source_id", Value: f.SourceID},
			ports.Field{Key: "sequence", Value: f.Sequence})
	}
	for _, id := range report.Failed {
		b.Unsubscribe(id)
	}
	b.obs.ObserveLatency("pulse_publish_duration_seconds", time.Since(start).Seconds())
	return report
}

// Close unsubscribes everything.
func (b *Broadcaster) Close() {
	for _, sub := range b.registry.Snapshot() {
		b.Unsubscribe(sub.ID())
	}
}

func (b *Broadcaster) deliver(ctx context.Context, sub ports.Subscriber, f *domain.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: subscriber panicked: %v", domain.ErrDelivery, r)
		}
	}()
	if b.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.writeTimeout)
		defer cancel()
	}
	if err := sub.Deliver(ctx, f); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDelivery, err)
	}
	return nil
}
