package websocket

import (
	"context"
	"net/http"
	"sync"

	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ghalamif/PulseFlow/internal/ports"
)

// SessionServer runs one producer session to completion.
type SessionServer interface {
	ServeProducer(ctx context.Context, conn ports.ProducerConn) error
}

// SubscriberSet registers live subscribers.
type SubscriberSet interface {
	Subscribe(sub ports.Subscriber)
	Unsubscribe(id string)
}

// Server upgrades producer and subscriber requests and owns the resulting
// sockets until they end or Close is called.
type Server struct {
	sessions SessionServer
	subs     SubscriberSet
	policy   ports.Policy
	log      *zap.Logger
	upgrader ws.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewServer(sessions SessionServer, subs SubscriberSet, pol ports.Policy, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		sessions: sessions,
		subs:     subs,
		policy:   pol,
		log:      logger,
		upgrader: ws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register mounts the producer and subscriber endpoints, including the
// legacy /ws/patient and /ws/dashboard paths.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/source", s.HandleProducer)
	mux.HandleFunc("GET /ws/patient", s.HandleProducer)
	mux.HandleFunc("GET /ws/subscribe", s.HandleSubscriber)
	mux.HandleFunc("GET /ws/dashboard", s.HandleSubscriber)
}

func (s *Server) HandleProducer(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("producer_upgrade_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	if !s.track() {
		_ = conn.Close()
		return
	}
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	pc := newProducerConn(conn, s.policy.MaxFrameBytes, s.policy.PingInterval)
	go pingLoop(ctx, conn, s.policy.PingInterval)

	// the coordinator logs and counts session failures
	_ = s.sessions.ServeProducer(ctx, pc)
}

func (s *Server) HandleSubscriber(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("subscriber_upgrade_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	if !s.track() {
		_ = conn.Close()
		return
	}
	defer s.wg.Done()

	sub := NewSubscriber(conn, s.policy.WriteTimeout)
	armPongWait(conn, s.policy.PingInterval)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = sub.Close() })
	defer stop()

	s.subs.Subscribe(sub)
	defer s.subs.Unsubscribe(sub.ID())

	go pingLoop(ctx, conn, s.policy.PingInterval)
	sub.awaitClose()
}

// Close ends every open session and waits for the handlers to return.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}
