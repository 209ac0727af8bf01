package store

import (
	"context"
	"iter"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/pitabwire/crudadmin/internal/datagrid"
	"github.com/pitabwire/crudadmin/model"
)

// MemoryModelManager keeps objects in memory, keyed by class and id.
type MemoryModelManager struct {
	mu       sync.RWMutex
	registry *datagrid.Registry
	objects  map[string]map[string]*model.Object
}

// NewMemoryModelManager creates an empty in-memory model manager.
func NewMemoryModelManager(registry *datagrid.Registry) *MemoryModelManager {
	return &MemoryModelManager{
		registry: registry,
		objects:  make(map[string]map[string]*model.Object),
	}
}

// Find returns a copy of the object, or nil when it does not exist.
func (m *MemoryModelManager) Find(_ context.Context, class, id string) (*model.Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[class][id].Clone(), nil
}

// Create stores a new object, assigning an id when none is set.
func (m *MemoryModelManager) Create(_ context.Context, obj *model.Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if obj.ID == "" {
		obj.ID = uuid.NewString()
	}
	byID, ok := m.objects[obj.Class]
	if !ok {
		byID = make(map[string]*model.Object)
		m.objects[obj.Class] = byID
	}
	if _, exists := byID[obj.ID]; exists {
		return model.NewModelManagerError("object "+obj.ID+" already exists", nil)
	}

	ts := now()
	obj.Version = 1
	obj.CreatedAt, obj.UpdatedAt = ts, ts
	byID[obj.ID] = obj.Clone()
	return nil
}

// Update stores obj when its version matches the stored version.
func (m *MemoryModelManager) Update(_ context.Context, obj *model.Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.objects[obj.Class][obj.ID]
	if !ok {
		return notFound(obj.Class, obj.ID)
	}
	if existing.Version != obj.Version {
		return lockConflict(obj, existing.Version)
	}

	obj.Version++
	obj.CreatedAt = existing.CreatedAt
	obj.UpdatedAt = now()
	m.objects[obj.Class][obj.ID] = obj.Clone()
	return nil
}

// Delete removes obj.
func (m *MemoryModelManager) Delete(_ context.Context, obj *model.Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[obj.Class][obj.ID]; !ok {
		return notFound(obj.Class, obj.ID)
	}
	delete(m.objects[obj.Class], obj.ID)
	return nil
}

// BatchDelete removes every object matched by q, ignoring pagination.
func (m *MemoryModelManager) BatchDelete(_ context.Context, class string, q *datagrid.Query) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, obj := range m.objects[class] {
		if matches(m.registry, q, obj) {
			delete(m.objects[class], id)
			n++
		}
	}
	return n, nil
}

// AddIdentifiersToQuery restricts q to the given ids.
func (m *MemoryModelManager) AddIdentifiersToQuery(_ string, q *datagrid.Query, ids []string) {
	q.RestrictTo(ids)
}

// Execute returns the page of objects selected by q.
func (m *MemoryModelManager) Execute(_ context.Context, q *datagrid.Query) ([]*model.Object, error) {
	return page(m.selectAll(q), q), nil
}

// Count returns the number of objects matched by q, ignoring pagination.
func (m *MemoryModelManager) Count(_ context.Context, q *datagrid.Query) (int, error) {
	return len(m.selectAll(q)), nil
}

// Iterate yields the objects selected by q, honouring its bounds.
func (m *MemoryModelManager) Iterate(_ context.Context, q *datagrid.Query) iter.Seq2[*model.Object, error] {
	all := page(m.selectAll(q), q)
	return func(yield func(*model.Object, error) bool) {
		for _, obj := range all {
			if !yield(obj, nil) {
				return
			}
		}
	}
}

// HealthCheck always succeeds.
func (m *MemoryModelManager) HealthCheck(context.Context) error { return nil }

// selectAll returns sorted copies of the objects matched by q.
func (m *MemoryModelManager) selectAll(q *datagrid.Query) []*model.Object {
	m.mu.RLock()
	var out []*model.Object
	for _, obj := range m.objects[q.Class] {
		if matches(m.registry, q, obj) {
			out = append(out, obj.Clone())
		}
	}
	m.mu.RUnlock()

	sortBy := q.SortBy
	slices.SortStableFunc(out, func(a, b *model.Object) int {
		c := 0
		if sortBy != "" {
			c = compareValues(sortValue(a, sortBy), sortValue(b, sortBy))
		}
		if c == 0 {
			c = compareValues(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
		}
		if c == 0 {
			c = compareValues(a.ID, b.ID)
		}
		if q.Descending() {
			return -c
		}
		return c
	})
	return out
}

func page(all []*model.Object, q *datagrid.Query) []*model.Object {
	start := min(q.FirstResult, len(all))
	end := len(all)
	if q.MaxResults > 0 {
		end = min(start+q.MaxResults, len(all))
	}
	return all[start:end]
}
