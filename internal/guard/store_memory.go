package guard

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
// Event records expire lazily after the TTL; document versions are kept
// until the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]Record
	docs   map[string]int64
	ttl    time.Duration
}

// NewMemoryStore creates an in-memory guard store. A zero TTL means event
// records never expire.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		events: make(map[string]Record),
		docs:   make(map[string]int64),
		ttl:    ttl,
	}
}

// Seen implements Store.
func (s *MemoryStore) Seen(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	rec, ok := s.events[eventID]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}

	if s.ttl > 0 && time.Since(rec.ProcessedAt) > s.ttl {
		s.mu.Lock()
		delete(s.events, eventID)
		s.mu.Unlock()
		return false, nil
	}

	return true, nil
}

// MarkProcessed implements Store.
func (s *MemoryStore) MarkProcessed(ctx context.Context, rec Record) error {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now()
	}
	s.mu.Lock()
	s.events[rec.EventID] = rec
	s.mu.Unlock()
	return nil
}

// LatestVersion implements Store.
func (s *MemoryStore) LatestVersion(ctx context.Context, docID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[docID], nil
}

// SetVersion implements Store.
func (s *MemoryStore) SetVersion(ctx context.Context, docID string, version int64) error {
	s.mu.Lock()
	s.docs[docID] = version
	s.mu.Unlock()
	return nil
}

// Lookup returns the stored processed-event record for eventID.
func (s *MemoryStore) Lookup(eventID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.events[eventID]
	return rec, ok
}

// Len returns the number of tracked event records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
