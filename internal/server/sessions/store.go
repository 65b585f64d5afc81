// Package sessions keeps the pending OAuth state of each user between the
// authorization redirect and the provider callback.
package sessions

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoState is returned by Take when no pending state exists.
var ErrNoState = errors.New("no pending authorization state")

// StateStore holds at most one pending state per user. Take always removes
// the stored value, whether or not the caller later accepts it.
type StateStore interface {
	Put(ctx context.Context, userID, state string) error
	Take(ctx context.Context, userID string) (string, error)
}

type memoryEntry struct {
	state   string
	expires time.Time
}

// MemoryStateStore is used when Redis is unreachable at startup. It only
// works for a single server instance.
type MemoryStateStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	return &MemoryStateStore{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStateStore) Put(_ context.Context, userID, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = memoryEntry{state: state, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStateStore) Take(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	delete(s.entries, userID)
	if !ok || s.now().After(e.expires) {
		return "", ErrNoState
	}
	return e.state, nil
}
