package metastore

import (
	"context"
	"sync"
)

type memKey struct {
	licenseID int64
	key       string
}

// MemoryStore is an in-process Store. Values are copied on the way in and out.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[memKey]Metadata
	updates int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[memKey]Metadata)}
}

func (s *MemoryStore) Get(_ context.Context, licenseID int64, key string) (Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[memKey{licenseID, key}].Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, licenseID int64, key string, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[memKey{licenseID, key}] = meta.Clone()
	s.updates++
	return nil
}

// Updates returns how many times Update has been called.
func (s *MemoryStore) Updates() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updates
}

func (s *MemoryStore) Close(_ context.Context) error {
	return nil
}
