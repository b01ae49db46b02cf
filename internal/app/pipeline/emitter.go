package pipeline

import (
	"context"
	"sync"

	"github.com/ghalamif/PulseFlow/internal/domain"
)

// maxEmitBacklog bounds the events a source may have waiting for fan-out.
const maxEmitBacklog = 10_000

// emitter publishes one source's released events in order on its own
// goroutine, so the ingest path never waits for subscribers. The goroutine
// exits once the backlog is empty and is restarted by the next push.
type emitter struct {
	publish func(ctx context.Context, events []*domain.Event)
	limit   int

	mu      sync.Mutex
	pending []*domain.Event
	running bool
	idle    chan struct{}
}

func newEmitter(limit int, publish func(context.Context, []*domain.Event)) *emitter {
	return &emitter{publish: publish, limit: limit}
}

// push queues events behind everything already pending and returns the ones
// that did not fit in the backlog.
func (e *emitter) push(ctx context.Context, events []*domain.Event) (dropped []*domain.Event) {
	if len(events) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.limit > 0 {
		room := e.limit - len(e.pending)
		if room < 0 {
			room = 0
		}
		if len(events) > room {
			events, dropped = events[:room], events[room:]
		}
	}
	e.pending = append(e.pending, events...)

	if !e.running && len(e.pending) > 0 {
		e.running = true
		e.idle = make(chan struct{})
		// a producer hanging up must not cancel deliveries already queued
		go e.loop(context.WithoutCancel(ctx))
	}
	return dropped
}

func (e *emitter) loop(ctx context.Context) {
	for {
		e.mu.Lock()
		batch := e.pending
		e.pending = nil
		if len(batch) == 0 {
			e.running = false
			close(e.idle)
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		e.publish(ctx, batch)
	}
}

// wait blocks until everything pushed so far has been published.
func (e *emitter) wait() {
	e.mu.Lock()
	idle, running := e.idle, e.running
	e.mu.Unlock()
	if running {
		<-idle
	}
}

func (e *emitter) busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running || len(e.pending) > 0
}
