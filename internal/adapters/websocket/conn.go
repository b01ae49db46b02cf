package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"

	"github.com/ghalamif/PulseFlow/internal/adapters/codec"
	"github.com/ghalamif/PulseFlow/internal/domain"
	"github.com/ghalamif/PulseFlow/internal/ports"
)

const controlWriteWait = time.Second

var frameCodec = codec.NewJSONCodec()

// producerConn reads frames from a producer socket.
type producerConn struct {
	conn     *ws.Conn
	pongWait time.Duration
}

func newProducerConn(conn *ws.Conn, maxFrameBytes int64, pingInterval time.Duration) *producerConn {
	if maxFrameBytes > 0 {
		conn.SetReadLimit(maxFrameBytes)
	}
	return &producerConn{conn: conn, pongWait: armPongWait(conn, pingInterval)}
}

func (p *producerConn) ReadFrame(ctx context.Context) ([]byte, error) {
	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			if isCleanClose(err) || ctx.Err() != nil {
				return nil, domain.ErrSessionClosed
			}
			return nil, err
		}
		if p.pongWait > 0 {
			_ = p.conn.SetReadDeadline(time.Now().Add(p.pongWait))
		}
		if kind == ws.TextMessage || kind == ws.BinaryMessage {
			return data, nil
		}
	}
}

func (p *producerConn) RemoteAddr() string { return p.conn.RemoteAddr().String() }

func (p *producerConn) Close() error {
	_ = p.conn.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(controlWriteWait))
	return p.conn.Close()
}

// Subscriber pushes frames to one websocket client. Writes are serialized and
// each one is bounded by the write timeout or the caller's deadline, whichever
// comes first.
type Subscriber struct {
	id           string
	conn         *ws.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func NewSubscriber(conn *ws.Conn, writeTimeout time.Duration) *Subscriber {
	return &Subscriber{
		id:           "ws-" + uuid.NewString(),
		conn:         conn,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

func (s *Subscriber) ID() string { return s.id }

func (s *Subscriber) Deliver(ctx context.Context, f *domain.Frame) error {
	select {
	case <-s.closed:
		return domain.ErrSubscriberClosed
	default:
	}

	payload, err := frameCodec.EncodeFrame(f)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(ws.TextMessage, payload)
}

// Close sends a close frame and releases the socket. Safe to call repeatedly.
func (s *Subscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseGoingAway, "relay closing"), time.Now().Add(controlWriteWait))
		err = s.conn.Close()
	})
	return err
}

// Done is closed once the subscriber has been closed.
func (s *Subscriber) Done() <-chan struct{} { return s.closed }

// awaitClose blocks until the client goes away. Inbound data frames are ignored.
func (s *Subscriber) awaitClose() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// armPongWait installs the pong handler and returns the read deadline extension,
// or zero when liveness checks are off.
func armPongWait(conn *ws.Conn, pingInterval time.Duration) time.Duration {
	if pingInterval <= 0 {
		return 0
	}
	wait := pingInterval * 2
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})
	return wait
}

// pingLoop pings until ctx ends or a ping cannot be written.
func pingLoop(ctx context.Context, conn *ws.Conn, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(ws.PingMessage, nil, time.Now().Add(controlWriteWait)); err != nil {
				return
			}
		}
	}
}

func isCleanClose(err error) bool {
	if ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway, ws.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, ws.ErrCloseSent)
}

var (
	_ ports.ProducerConn = (*producerConn)(nil)
	_ ports.Subscriber   = (*Subscriber)(nil)
)
