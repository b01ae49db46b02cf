package ports

import (
	"context"

	"github.com/ghalamif/PulseFlow/internal/domain"
)

// Subscriber is a live delivery sink for emitted frames. Deliver may be called
// concurrently for frames of different sources and must honour ctx deadlines.
type Subscriber interface {
	ID() string
	Deliver(ctx context.Context, f *domain.Frame) error
	Close() error
}
