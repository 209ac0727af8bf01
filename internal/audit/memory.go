package audit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pitabwire/crudadmin/model"
)

// MemoryStore keeps revisions in memory. Revision ids are a store-wide
// sequence.
type MemoryStore struct {
	mu        sync.RWMutex
	seq       int64
	revisions map[string][]model.Revision
}

// NewMemoryStore creates an empty in-memory revision store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{revisions: make(map[string][]model.Revision)}
}

func objectKey(class, id string) string {
	return class + "\x00" + id
}

// Append stores rev.
func (s *MemoryStore) Append(_ context.Context, rev *model.Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	rev.ID = strconv.FormatInt(s.seq, 10)
	stored := *rev
	stored.Object = rev.Object.Clone()
	key := objectKey(rev.Class, rev.ObjectID)
	s.revisions[key] = append(s.revisions[key], stored)
	return nil
}

// FindRevisions returns the revisions of an object, newest first.
func (s *MemoryStore) FindRevisions(_ context.Context, class, id string) ([]model.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	revs := s.revisions[objectKey(class, id)]
	out := make([]model.Revision, 0, len(revs))
	for i := len(revs) - 1; i >= 0; i-- {
		r := revs[i]
		r.Object = r.Object.Clone()
		out = append(out, r)
	}
	return out, nil
}

// Find returns one revision, or nil.
func (s *MemoryStore) Find(_ context.Context, class, id, revision string) (*model.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.revisions[objectKey(class, id)] {
		if r.ID == revision {
			r.Object = r.Object.Clone()
			return &r, nil
		}
	}
	return nil, nil
}

func now() time.Time {
	return time.Now().UTC()
}
