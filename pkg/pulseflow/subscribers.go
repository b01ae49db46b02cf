package pulseflow

import (
	"context"
	"fmt"
	"sync"
)

// FrameCallback receives one emitted frame. It may be called concurrently for
// frames of different sources.
type FrameCallback func(context.Context, Frame) error

// NewCallbackSubscriber adapts a function into a Subscriber so callers can
// plug arbitrary handlers without defining structs.
func NewCallbackSubscriber(id string, fn FrameCallback) Subscriber {
	if id == "" {
		id = "callback"
	}
	return &callbackSubscriber{id: id, fn: fn}
}

// NewChannelSubscriber exposes frames via a channel; it returns the subscriber,
// the read-only channel and a close function for shutdown. A full channel
// blocks delivery until the relay's write timeout, after which the subscriber
// is dropped.
func NewChannelSubscriber(id string, buffer int) (Subscriber, <-chan Frame, func()) {
	if id == "" {
		id = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Frame, buffer)
	s := &channelSubscriber{
		id:     id,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { _ = s.Close() }
}

type callbackSubscriber struct {
	id string
	fn FrameCallback
}

func (s *callbackSubscriber) ID() string { return s.id }

func (s *callbackSubscriber) Deliver(ctx context.Context, f *Frame) error {
	if s.fn == nil {
		return fmt.Errorf("callback subscriber %q: nil handler", s.id)
	}
	return s.fn(ctx, *f)
}

func (s *callbackSubscriber) Close() error { return nil }

type channelSubscriber struct {
	id     string
	ch     chan Frame
	closed chan struct{}
	once   sync.Once
	// held shared by senders so the channel is never closed under them
	mu sync.RWMutex
}

func (s *channelSubscriber) ID() string { return s.id }

func (s *channelSubscriber) Deliver(ctx context.Context, f *Frame) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.closed:
		return ErrSubscriberClosed
	default:
	}

	select {
	case <-s.closed:
		return ErrSubscriberClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- *f:
		return nil
	}
}

func (s *channelSubscriber) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
	return nil
}
