package pipeline

import "sync"

// Session tracks which sources a producer session has written to. The first
// event a session sends for a source rebases that source's buffer, because
// producers restart their sequence numbers when they reconnect.
type Session struct {
	remote string

	mu    sync.Mutex
	bound map[string]struct{}
}

func newSession(remote string) *Session {
	return &Session{remote: remote, bound: make(map[string]struct{})}
}

// bind reports whether this is the session's first event for sourceID.
func (s *Session) bind(sourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bound[sourceID]; ok {
		return false
	}
	s.bound[sourceID] = struct{}{}
	return true
}
