package ports

import "context"

// ProducerConn is one persistent producer session. ReadFrame blocks until the next
// frame arrives, the session ends or ctx is cancelled. A clean remote close is
// reported as domain.ErrSessionClosed.
type ProducerConn interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	RemoteAddr() string
	Close() error
}
