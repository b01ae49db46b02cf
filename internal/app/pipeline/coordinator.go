package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ghalamif/PulseFlow/internal/app/fanout"
	"github.com/ghalamif/PulseFlow/internal/app/stats"
	"github.com/ghalamif/PulseFlow/internal/domain"
	"github.com/ghalamif/PulseFlow/internal/ports"
)

// BufferFactory builds the delay buffer for a newly seen source.
type BufferFactory func(windowMs int64) ports.EventBuffer

// Coordinator owns per-source state and drives decoded events through metrics,
// the source's delay buffer and fan-out. Each source's buffer is touched only
// under that source's lock. Released events are handed, still under that lock,
// to the source's emitter, which publishes them in buffer order without holding
// up ingestion.
type Coordinator struct {
	policy    ports.Policy
	decoder   ports.Decoder
	clock     ports.Clock
	agg       *stats.Aggregator
	fan       *fanout.Broadcaster
	obs       ports.Observability
	newBuffer BufferFactory

	mu      sync.RWMutex
	sources map[string]*sourceSlot
}

type sourceSlot struct {
	mu       sync.Mutex
	buf      ports.EventBuffer
	out      *emitter
	lastSeen int64
	evicted  bool
}

func NewCoordinator(
	pol ports.Policy,
	dec ports.Decoder,
	clock ports.Clock,
	agg *stats.Aggregator,
	fan *fanout.Broadcaster,
	obs ports.Observability,
	newBuffer BufferFactory,
) *Coordinator {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Coordinator{
		policy:    pol,
		decoder:   dec,
		clock:     clock,
		agg:       agg,
		fan:       fan,
		obs:       obs,
		newBuffer: newBuffer,
		sources:   make(map[string]*sourceSlot),
	}
}

// ServeProducer runs one producer session until the remote closes, the
// transport fails or ctx is cancelled. Malformed frames are dropped and the
// session carries on. Per-source state outlives the session.
func (c *Coordinator) ServeProducer(ctx context.Context, conn ports.ProducerConn) (err error) {
	sess := newSession(conn.RemoteAddr())
	c.obs.LogInfo("producer_connected", ports.Field{Key: "remote", Value: sess.remote})

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrSession, r)
		}
		_ = conn.Close()
		if err != nil {
			c.obs.IncCounter("pulse_sessions_failed_total", 1)
			c.obs.LogError("producer_session_failed", err, ports.Field{Key: "remote", Value: sess.remote})
			return
		}
		c.obs.LogInfo("producer_disconnected", ports.Field{Key: "remote", Value: sess.remote})
	}()

	for {
		raw, err := conn.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrSessionClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %w", domain.ErrSession, err)
		}
		c.HandleFrame(ctx, raw, sess)
	}
}

// FrameHandler adapts the coordinator to a connectionless collector. All frames
// from the collector share one session.
func (c *Coordinator) FrameHandler(ctx context.Context, name string) ports.FrameHandler {
	sess := newSession(name)
	return func(raw []byte) {
		c.HandleFrame(ctx, raw, sess)
	}
}

// HandleFrame decodes raw and ingests the result. sess may be nil.
func (c *Coordinator) HandleFrame(ctx context.Context, raw []byte, sess *Session) {
	e, err := c.decoder.Decode(raw, c.clock.NowMs())
	if err != nil {
		c.obs.IncCounter("pulse_decode_errors_total", 1)
		var remote string
		if sess != nil {
			remote = sess.remote
		}
		c.obs.LogError("decode_failed", err,
			ports.Field{Key: "remote", Value: remote},
			ports.Field{Key: "bytes", Value: len(raw)})
		return
	}
	c.ingest(ctx, e, sess)
}

// Ingest records e and pushes it through its source's buffer.
func (c *Coordinator) Ingest(ctx context.Context, e *domain.Event) {
	c.ingest(ctx, e, nil)
}

func (c *Coordinator) ingest(ctx context.Context, e *domain.Event, sess *Session) {
	c.obs.IncCounter("pulse_events_received_total", 1)
	c.obs.ObserveLatency("pulse_event_latency_seconds", float64(e.LatencyMs())/1000)

	slot := c.lockSlot(e.SourceID)
	defer slot.mu.Unlock()

	// under the slot lock, see evict
	c.agg.Record(e)

	if sess != nil && sess.bind(e.SourceID) {
		slot.buf.Rebase()
	}
	slot.lastSeen = e.ReceivedAtMs

	switch slot.buf.Enqueue(e) {
	case ports.Duplicate:
		c.agg.RecordDuplicate(e.SourceID)
		c.obs.IncCounter("pulse_duplicates_total", 1)
		c.obs.RecordDrop("duplicate", e)
	case ports.Late:
		c.agg.RecordLate(e.SourceID)
		c.obs.IncCounter("pulse_late_drops_total", 1)
		c.obs.RecordDrop("late", e)
	}

	c.emit(ctx, slot, slot.buf.DrainReady(c.clock.NowMs()))
}

// Run drains every source on the idle timer until ctx is cancelled, so buffered
// events flush even when their producer goes quiet.
func (c *Coordinator) Run(ctx context.Context) {
	interval := c.policy.DrainInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick drains ready events of every source and applies idle eviction.
func (c *Coordinator) Tick(ctx context.Context) {
	now := c.clock.NowMs()
	ttlMs := c.policy.SourceIdleTTL.Milliseconds()

	var buffered int
	for id, slot := range c.slots() {
		slot.mu.Lock()
		if slot.evicted {
			slot.mu.Unlock()
			continue
		}
		c.emit(ctx, slot, slot.buf.DrainReady(now))
		if ttlMs > 0 && slot.buf.Len() == 0 && !slot.out.busy() && now-slot.lastSeen >= ttlMs {
			c.evict(id, slot)
		}
		buffered += slot.buf.Len()
		slot.mu.Unlock()
	}

	c.mu.RLock()
	n := len(c.sources)
	c.mu.RUnlock()
	c.obs.SetGauge("pulse_sources", float64(n))
	c.obs.SetGauge("pulse_buffered_events", float64(buffered))
}

// Flush emits everything still buffered, ignoring the window, and returns once
// every source's emitter has published its backlog.
func (c *Coordinator) Flush(ctx context.Context) {
	for _, slot := range c.slots() {
		slot.mu.Lock()
		if !slot.evicted {
			c.emit(ctx, slot, slot.buf.DrainAll())
		}
		slot.mu.Unlock()
	}
	c.awaitEmitters()
}

// Sources lists the ids with resident state.
func (c *Coordinator) Sources() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.sources))
	for id := range c.sources {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// BufferedLen reports how many events sourceID has waiting.
func (c *Coordinator) BufferedLen(sourceID string) int {
	c.mu.RLock()
	slot, ok := c.sources[sourceID]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.buf.Len()
}

// emit queues released events on the slot's emitter. Must be called with
// slot.mu held so queue order matches buffer order.
func (c *Coordinator) emit(ctx context.Context, slot *sourceSlot, events []*domain.Event) {
	for _, e := range slot.out.push(ctx, events) {
		c.obs.IncCounter("pulse_backlog_drops_total", 1)
		c.obs.RecordDrop("backlog", e)
	}
}

func (c *Coordinator) publish(ctx context.Context, events []*domain.Event) {
	for _, e := range events {
		c.fan.Publish(ctx, domain.FrameFromEvent(e))
	}
	c.obs.IncCounter("pulse_events_emitted_total", float64(len(events)))
}

// awaitEmitters blocks until every resident source has published what was
// queued before the call.
func (c *Coordinator) awaitEmitters() {
	for _, slot := range c.slots() {
		slot.out.wait()
	}
}

// lockSlot returns the live slot for sourceID with its lock held.
func (c *Coordinator) lockSlot(sourceID string) *sourceSlot {
	for {
		slot := c.slot(sourceID)
		slot.mu.Lock()
		if !slot.evicted {
			return slot
		}
		slot.mu.Unlock()
	}
}

func (c *Coordinator) slot(sourceID string) *sourceSlot {
	c.mu.RLock()
	slot, ok := c.sources[sourceID]
	c.mu.RUnlock()
	if ok {
		return slot
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if slot, ok = c.sources[sourceID]; ok {
		return slot
	}
	slot = &sourceSlot{
		buf: c.newBuffer(c.policy.WindowMs),
		out: newEmitter(maxEmitBacklog, c.publish),
	}
	c.sources[sourceID] = slot
	return slot
}

func (c *Coordinator) slots() map[string]*sourceSlot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*sourceSlot, len(c.sources))
	for id, slot := range c.sources {
		out[id] = slot
	}
	return out
}

// evict must be called with slot.mu held. Stats go first: until the slot leaves
// the map, ingest for id blocks on slot.mu and cannot record into them.
func (c *Coordinator) evict(id string, slot *sourceSlot) {
	slot.evicted = true
	c.agg.Evict(id)
	c.mu.Lock()
	if c.sources[id] == slot {
		delete(c.sources, id)
	}
	c.mu.Unlock()
	c.obs.LogInfo("source_evicted", ports.Field{Key: "source_id", Value: id})
}
