package session

import (
	"context"
	"sync"
	"time"

	"github.com/bankshield/stepup/internal/risk"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (s *MemoryStore) Create(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return cloneSession(sess), nil
}

func (s *MemoryStore) Update(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return ErrUnknownSession
	}
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) ListStale(ctx context.Context, before time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(before) {
			ids = append(ids, id)
			if limit > 0 && len(ids) >= limit {
				break
			}
		}
	}
	return ids, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		Decisions: make(map[Decision]int),
		Tiers:     make(map[risk.Tier]int),
	}
	for _, sess := range s.sessions {
		stats.Total++
		if sess.Decision == DecisionPending {
			stats.Pending++
		} else {
			stats.Decisions[sess.Decision]++
		}
		if sess.Assessment != nil {
			stats.Tiers[sess.Assessment.Tier]++
		}
	}
	return stats, nil
}
