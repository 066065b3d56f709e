package history

import (
	"context"
	"sync"
)

// InMemoryStore keeps turn history in process memory. Sessions live for the
// process lifetime; only turns within a session are evicted (FIFO window).
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionHistory
	maxTurns int
}

// sessionHistory serializes appends and reads for one session so two
// concurrent utterances cannot interleave their effects.
type sessionHistory struct {
	mu    sync.Mutex
	turns []Turn
}

func NewInMemoryStore(maxTurns int) *InMemoryStore {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &InMemoryStore{
		sessions: make(map[string]*sessionHistory),
		maxTurns: maxTurns,
	}
}

func (s *InMemoryStore) GetHistory(_ context.Context, sessionID string) ([]Turn, error) {
	s.mu.RLock()
	sess := s.sessions[sessionID]
	s.mu.RUnlock()
	if sess == nil {
		return nil, nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]Turn, len(sess.turns))
	copy(out, sess.turns)
	return out, nil
}

func (s *InMemoryStore) AppendTurn(_ context.Context, sessionID, callerText, replyText string) error {
	sess := s.getOrCreate(sessionID)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.turns = append(sess.turns, Turn{CallerText: callerText, ReplyText: replyText})
	if n := len(sess.turns); n > s.maxTurns {
		// Evict oldest first; copy so the retained slice does not pin the
		// evicted backing array.
		kept := make([]Turn, s.maxTurns)
		copy(kept, sess.turns[n-s.maxTurns:])
		sess.turns = kept
	}
	return nil
}

func (s *InMemoryStore) Reset(_ context.Context, sessionID string) error {
	sess := s.getOrCreate(sessionID)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.turns = nil
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) getOrCreate(sessionID string) *sessionHistory {
	s.mu.RLock()
	sess := s.sessions[sessionID]
	s.mu.RUnlock()
	if sess != nil {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess = s.sessions[sessionID]; sess == nil {
		sess = &sessionHistory{}
		s.sessions[sessionID] = sess
	}
	return sess
}
