package ports

import "github.com/ghalamif/PulseFlow/internal/domain"

// Decoder turns a raw inbound frame into an Event stamped with receivedAtMs.
// Failures wrap domain.ErrDecode.
type Decoder interface {
	Decode(raw []byte, receivedAtMs int64) (*domain.Event, error)
}
