package history

import (
	"context"
	"sync"

	"ecombot/internal/models"
)

// MemoryStore holds transcripts in process memory. Entries are never evicted.
type MemoryStore struct {
	mu        sync.RWMutex
	histories map[string][]*models.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{histories: make(map[string][]*models.Message)}
}

func (s *MemoryStore) Messages(_ context.Context, sessionID string) ([]*models.Message, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	history, ok := s.histories[sessionID]
	s.mu.RUnlock()
	if ok {
		return models.CloneMessages(history), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.histories[sessionID]; !ok {
		s.histories[sessionID] = make([]*models.Message, 0)
	}
	return models.CloneMessages(s.histories[sessionID]), nil
}

func (s *MemoryStore) Peek(_ context.Context, sessionID string) ([]*models.Message, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CloneMessages(s.histories[sessionID]), nil
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, msgs ...*models.Message) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	if err := checkMessages(msgs); err != nil {
		return err
	}
	cloned := models.CloneMessages(msgs)
	for _, msg := range cloned {
		msg.SessionID = sessionID
	}
	s.mu.Lock()
	s.histories[sessionID] = append(s.histories[sessionID], cloned...)
	s.mu.Unlock()
	return nil
}

// Sessions reports how many transcripts exist.
func (s *MemoryStore) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.histories)
}
