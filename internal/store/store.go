// Package store provides durable, keyed state for in-flight conversations
// with optimistic concurrency control.
package store

import (
	"context"
	"sync"
	"time"

	"deskbot/internal/domain"
)

// Store is the session store contract. Put enforces a compare-and-swap on
// Session.Version: the router's single-writer guarantee should prevent
// conflicts, but the store rejects lost updates defensively.
type Store interface {
	// Get returns the session for key, or (nil, nil) when none exists.
	Get(ctx context.Context, key string) (*domain.Session, error)
	// Put persists the session. A session with Version 0 is inserted;
	// otherwise the stored version must match or domain.ErrVersionConflict
	// is returned. On success the session's Version is incremented.
	Put(ctx context.Context, sess *domain.Session) error
	// EvictExpired marks every session past its expiry as expired and
	// returns how many were evicted. Idempotent.
	EvictExpired(ctx context.Context, now time.Time) (int64, error)
	Close() error
}

// MemoryStore is an in-memory Store used by tests and the CLI chat loop.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]domain.Session)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[key]
	if !ok {
		return nil, nil
	}
	return cloneSession(&sess), nil
}

func (m *MemoryStore) Put(_ context.Context, sess *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.sessions[sess.Key]
	if sess.Version == 0 {
		if exists {
			return domain.ErrVersionConflict
		}
	} else if !exists || stored.Version != sess.Version {
		return domain.ErrVersionConflict
	}

	sess.Version++
	m.sessions[sess.Key] = *cloneSession(sess)
	return nil
}

func (m *MemoryStore) EvictExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted int64
	for key, sess := range m.sessions {
		if sess.State.Terminal() || sess.ExpiresAt.After(now) {
			continue
		}
		sess.State = domain.StateExpired
		sess.Version++
		m.sessions[key] = sess
		evicted++
	}
	return evicted, nil
}

func (m *MemoryStore) Close() error { return nil }

// cloneSession deep-copies maps and slices so callers never share state with
// the store.
func cloneSession(s *domain.Session) *domain.Session {
	out := *s
	out.Context = make(map[string]string, len(s.Context))
	for k, v := range s.Context {
		out.Context[k] = v
	}
	out.Transcript = make([]domain.TranscriptEntry, len(s.Transcript))
	copy(out.Transcript, s.Transcript)
	return &out
}
