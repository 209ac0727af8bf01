// Package store persists admin objects. MemoryModelManager backs tests and
// single-instance deployments; PgModelManager stores objects as JSONB rows.
package store

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/pitabwire/crudadmin/internal/datagrid"
	"github.com/pitabwire/crudadmin/model"
)

// ModelManager persists the objects of admin classes.
type ModelManager interface {
	// Find returns the object, or nil when it does not exist.
	Find(ctx context.Context, class, id string) (*model.Object, error)

	// Create persists a new object, assigning its id, version and timestamps.
	Create(ctx context.Context, obj *model.Object) error

	// Update persists obj. The version must match the stored version;
	// otherwise a LOCK_ERROR is returned and nothing changes.
	Update(ctx context.Context, obj *model.Object) error

	// Delete removes obj.
	Delete(ctx context.Context, obj *model.Object) error

	// BatchDelete removes every object of class matched by q and returns
	// how many were removed.
	BatchDelete(ctx context.Context, class string, q *datagrid.Query) (int, error)

	// AddIdentifiersToQuery restricts q to the given ids.
	AddIdentifiersToQuery(class string, q *datagrid.Query, ids []string)

	// Execute returns the objects selected by q, honouring its bounds.
	Execute(ctx context.Context, q *datagrid.Query) ([]*model.Object, error)

	// Count returns the number of objects matched by q, ignoring its bounds.
	Count(ctx context.Context, q *datagrid.Query) (int, error)

	// Iterate streams the objects selected by q.
	Iterate(ctx context.Context, q *datagrid.Query) iter.Seq2[*model.Object, error]
}

// Columns that sort on object metadata instead of a field.
const (
	SortID        = "id"
	SortCreatedAt = "created_at"
	SortUpdatedAt = "updated_at"
)

func notFound(class, id string) error {
	return model.NewModelManagerError(fmt.Sprintf("%s %q does not exist", class, id), nil)
}

func lockConflict(obj *model.Object, stored int64) error {
	return model.NewLockError(fmt.Sprintf(
		"%s %q was modified concurrently (version %d, stored %d)", obj.Class, obj.ID, obj.Version, stored,
	))
}

// compareValues orders two field values numerically when both parse as
// numbers, otherwise as strings. nil sorts first.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	af, aerr := strconv.ParseFloat(as, 64)
	bf, berr := strconv.ParseFloat(bs, 64)
	if aerr == nil && berr == nil {
		return cmp.Compare(af, bf)
	}
	return cmp.Compare(as, bs)
}

func sortValue(obj *model.Object, field string) any {
	switch field {
	case SortID:
		return obj.ID
	case SortCreatedAt:
		return obj.CreatedAt.UnixNano()
	case SortUpdatedAt:
		return obj.UpdatedAt.UnixNano()
	}
	return obj.Get(field)
}

// matches reports whether obj satisfies every criterion and the identifier
// restriction of q.
func matches(reg *datagrid.Registry, q *datagrid.Query, obj *model.Object) bool {
	if q.IsRestricted() {
		found := false
		for _, id := range q.Identifiers {
			if id == obj.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, c := range q.Criteria {
		ft, ok := reg.Get(c.Type)
		if !ok {
			return false
		}
		if !ft.Match(obj.Get(c.Field), c.Operator, c.Value) {
			return false
		}
	}
	return true
}

func now() time.Time {
	return time.Now().UTC()
}
