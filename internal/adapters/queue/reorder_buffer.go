package queue

import (
	"sort"

	"github.com/ghalamif/PulseFlow/internal/domain"
	"github.com/ghalamif/PulseFlow/internal/ports"
)

// ReorderBuffer holds one source's events for a fixed window measured from their
// receive time. Sequenced events are released ordered by (sequence, receive
// time); unsequenced events sit in their own receive-ordered FIFO and are
// released on their own window, so they never hold back sequenced ones. The
// buffer never waits for sequences it has not seen: a gap does not hold
// anything back.
//
// Emission is non-decreasing in sequence, so a buffered lower sequence that is
// not ready yet holds back the ready higher ones behind it. A lower sequence
// arriving after a buffered higher one is already due would extend that hold
// indefinitely, so it is rejected as late instead. Every blocker therefore
// arrives within its successor's window and no sequenced event is held longer
// than twice the window after it was received.
//
// Duplicates keep the first copy. An event below the last emitted sequence can no
// longer be delivered in order and is rejected as late. Events without a sequence
// skip both checks.
type ReorderBuffer struct {
	windowMs    int64
	sequenced   []*domain.Event
	unsequenced []*domain.Event
	lastEmitted int64
	hasEmitted  bool
}

func NewReorderBuffer(windowMs int64) *ReorderBuffer {
	return &ReorderBuffer{windowMs: windowMs}
}

func (b *ReorderBuffer) Enqueue(e *domain.Event) ports.EnqueueResult {
	if !e.HasSequence() {
		i := sort.Search(len(b.unsequenced), func(i int) bool {
			return b.unsequenced[i].ReceivedAtMs > e.ReceivedAtMs
		})
		b.unsequenced = insertAt(b.unsequenced, i, e)
		return ports.Buffered
	}

	if b.hasEmitted {
		switch {
		case e.Sequence == b.lastEmitted:
			return ports.Duplicate
		case e.Sequence < b.lastEmitted:
			return ports.Late
		}
	}
	i := sort.Search(len(b.sequenced), func(i int) bool { return b.sequenced[i].Sequence >= e.Sequence })
	if i < len(b.sequenced) && b.sequenced[i].Sequence == e.Sequence {
		return ports.Duplicate
	}
	for _, higher := range b.sequenced[i:] {
		if e.ReceivedAtMs-higher.ReceivedAtMs >= b.windowMs {
			return ports.Late
		}
	}

	b.sequenced = insertAt(b.sequenced, i, e)
	return ports.Buffered
}

// DrainReady removes and returns the events ready at nowMs. Sequenced events
// leave as a ready prefix; unsequenced ones as a ready prefix of their FIFO.
// The two are merged by receive time.
func (b *ReorderBuffer) DrainReady(nowMs int64) []*domain.Event {
	var seq, unseq []*domain.Event
	seq, b.sequenced = readyPrefix(b.sequenced, nowMs, b.windowMs)
	unseq, b.unsequenced = readyPrefix(b.unsequenced, nowMs, b.windowMs)
	b.markEmitted(seq)
	return merge(seq, unseq)
}

// DrainAll releases everything regardless of the window.
func (b *ReorderBuffer) DrainAll() []*domain.Event {
	out := merge(b.sequenced, b.unsequenced)
	b.markEmitted(b.sequenced)
	b.sequenced, b.unsequenced = nil, nil
	return out
}

// Rebase forgets the emitted watermark. Producers restart their sequence after a
// reconnect, so a new session must not have its events rejected as late.
func (b *ReorderBuffer) Rebase() {
	b.hasEmitted = false
	b.lastEmitted = 0
}

func (b *ReorderBuffer) Len() int {
	return len(b.sequenced) + len(b.unsequenced)
}

// OldestReceivedAtMs returns the smallest receive time still buffered.
func (b *ReorderBuffer) OldestReceivedAtMs() (int64, bool) {
	var (
		oldest int64
		found  bool
	)
	if len(b.unsequenced) > 0 {
		oldest, found = b.unsequenced[0].ReceivedAtMs, true
	}
	for _, e := range b.sequenced {
		if !found || e.ReceivedAtMs < oldest {
			oldest, found = e.ReceivedAtMs, true
		}
	}
	return oldest, found
}

func (b *ReorderBuffer) markEmitted(out []*domain.Event) {
	for _, e := range out {
		if !b.hasEmitted || e.Sequence > b.lastEmitted {
			b.lastEmitted = e.Sequence
			b.hasEmitted = true
		}
	}
}

func readyPrefix(data []*domain.Event, nowMs, windowMs int64) (ready, rest []*domain.Event) {
	n := 0
	for n < len(data) && nowMs-data[n].ReceivedAtMs >= windowMs {
		n++
	}
	if n == 0 {
		return nil, data
	}
	ready = make([]*domain.Event, n)
	copy(ready, data[:n])
	left := copy(data, data[n:])
	for i := left; i < len(data); i++ {
		data[i] = nil
	}
	return ready, data[:left]
}

// merge interleaves a and b by receive time, keeping each one's own order.
func merge(a, b []*domain.Event) []*domain.Event {
	if len(b) == 0 {
		return a
	}
	if len(a) == 0 {
		return b
	}
	out := make([]*domain.Event, 0, len(a)+len(b))
	for len(a) > 0 && len(b) > 0 {
		if b[0].ReceivedAtMs < a[0].ReceivedAtMs {
			out, b = append(out, b[0]), b[1:]
		} else {
			out, a = append(out, a[0]), a[1:]
		}
	}
	out = append(out, a...)
	return append(out, b...)
}

func insertAt(data []*domain.Event, i int, e *domain.Event) []*domain.Event {
	data = append(data, nil)
	copy(data[i+1:], data[i:])
	data[i] = e
	return data
}

var _ ports.EventBuffer = (*ReorderBuffer)(nil)
