package ports

import "github.com/ghalamif/PulseFlow/internal/domain"

// EnqueueResult tells the caller what a buffer did with an event.
type EnqueueResult int

const (
	Buffered EnqueueResult = iota
	Duplicate
	Late
)

func (r EnqueueResult) String() string {
	switch r {
	case Buffered:
		return "buffered"
	case Duplicate:
		return "duplicate"
	case Late:
		return "late"
	default:
		return "unknown"
	}
}

// EventBuffer is the per-source delay/reorder buffer. It is not safe for
// concurrent use; the owner serializes access.
type EventBuffer interface {
	Enqueue(e *domain.Event) EnqueueResult
	DrainReady(nowMs int64) []*domain.Event
	DrainAll() []*domain.Event
	Rebase()
	Len() int
}
