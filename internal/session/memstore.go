package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/masterdata/model"
)

// MemoryStore is an in-memory Store. Records expire ttl after their last
// save.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memRecord // key: session ID
	ttl     time.Duration
	now     func() time.Time
}

type memRecord struct {
	rec       Record
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory store. A non-positive ttl keeps
// records until they are deleted.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memRecord),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Save creates or replaces a record.
func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memRecord{rec: rec}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}
	s.records[rec.ID] = entry
	return nil
}

// Load retrieves a record by ID, scoped to tenant.
func (s *MemoryStore) Load(_ context.Context, tenantID, id string) (Record, error) {
	s.mu.RLock()
	entry, exists := s.records[id]
	s.mu.RUnlock()

	if !exists || entry.rec.TenantID != tenantID {
		return Record{}, notFound(id)
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.records, id)
		s.mu.Unlock()
		return Record{}, notFound(id)
	}
	return entry.rec, nil
}

// Delete removes a record.
func (s *MemoryStore) Delete(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.records[id]; exists && entry.rec.TenantID == tenantID {
		delete(s.records, id)
	}
	return nil
}

// Len returns the number of records, expired ones included. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func notFound(id string) error {
	return model.NewNotFoundError(fmt.Sprintf("view session %q not found", id))
}
