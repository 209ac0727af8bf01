// Package audit records object revisions and reads them back for the history
// pages.
package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/pitabwire/crudadmin/model"
)

// Revision actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Reader reads the audited revisions of objects.
type Reader interface {
	// FindRevisions returns the revisions of an object, newest first.
	FindRevisions(ctx context.Context, class, id string) ([]model.Revision, error)

	// Find returns the object as it was at the given revision, or nil when
	// the revision does not exist.
	Find(ctx context.Context, class, id, revision string) (*model.Revision, error)
}

// Store persists revisions and reads them back.
type Store interface {
	Reader

	// Append stores a new revision, assigning its id.
	Append(ctx context.Context, rev *model.Revision) error
}

// Manager maps audited classes to their readers.
type Manager struct {
	mu      sync.RWMutex
	readers map[string]Reader
}

// NewManager creates an empty audit manager.
func NewManager() *Manager {
	return &Manager{readers: make(map[string]Reader)}
}

// Register makes reader responsible for class.
func (m *Manager) Register(class string, reader Reader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readers[class] = reader
}

// HasReader reports whether class is audited.
func (m *Manager) HasReader(class string) bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.readers[class]
	return ok
}

// GetReader returns the reader of class.
func (m *Manager) GetReader(class string) (Reader, error) {
	if m == nil {
		return nil, model.NewNotFoundError(fmt.Sprintf("no audit reader for %s", class))
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.readers[class]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("no audit reader for %s", class))
	}
	return r, nil
}

// Recorder snapshots objects into a Store after they change.
type Recorder struct {
	store Store
}

// NewRecorder returns a recorder writing to store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record appends a revision of obj made by username.
func (r *Recorder) Record(ctx context.Context, action string, obj *model.Object, username string) error {
	rev := &model.Revision{
		Class:     obj.Class,
		ObjectID:  obj.ID,
		Action:    action,
		Username:  username,
		Timestamp: obj.UpdatedAt,
		Object:    obj.Clone(),
	}
	if rev.Timestamp.IsZero() {
		rev.Timestamp = now()
	}
	if err := r.store.Append(ctx, rev); err != nil {
		return fmt.Errorf("record %s revision of %s %q: %w", action, obj.Class, obj.ID, err)
	}
	return nil
}
