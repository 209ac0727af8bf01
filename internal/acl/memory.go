package acl

import (
	"context"
	"sync"

	"github.com/pitabwire/crudadmin/model"
)

// MemoryStore keeps ACL entries in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]model.ACLEntry
}

// NewMemoryStore creates an empty ACL store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]model.ACLEntry)}
}

func objectKey(class, id string) string {
	return class + "\x00" + id
}

// Entries returns copies of the entries on one object.
func (s *MemoryStore) Entries(_ context.Context, class, objectID string) ([]model.ACLEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.entries[objectKey(class, objectID)]
	out := make([]model.ACLEntry, 0, len(stored))
	for _, e := range stored {
		e.Permissions = append([]string(nil), e.Permissions...)
		out = append(out, e)
	}
	return out, nil
}

// Replace swaps the entries of one kind.
func (s *MemoryStore) Replace(_ context.Context, class, objectID, kind string, entries []model.ACLEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := objectKey(class, objectID)
	var kept []model.ACLEntry
	for _, e := range s.entries[key] {
		if e.Kind != kind {
			kept = append(kept, e)
		}
	}
	for _, e := range entries {
		e.Class, e.ObjectID, e.Kind = class, objectID, kind
		e.Permissions = append([]string(nil), e.Permissions...)
		kept = append(kept, e)
	}
	s.entries[key] = kept
	return nil
}
