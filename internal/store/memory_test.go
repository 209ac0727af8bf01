package store

import (
	"context"
	"testing"

	"github.com/pitabwire/crudadmin/internal/datagrid"
	"github.com/pitabwire/crudadmin/model"
)

func seed(t *testing.T, m *MemoryModelManager, titles ...string) []*model.Object {
	t.Helper()
	var out []*model.Object
	for i, title := range titles {
		obj := model.NewObject("Post")
		obj.Set("title", title)
		obj.Set("views", i*10)
		if err := m.Create(context.Background(), obj); err != nil {
			t.Fatalf("Create error: %v", err)
		}
		out = append(out, obj)
	}
	return out
}

func TestMemoryModelManager_CreateAndFind(t *testing.T) {
	m := NewMemoryModelManager(datagrid.DefaultRegistry())
	ctx := context.Background()
	objs := seed(t, m, "Hello")

	if objs[0].ID == "" || objs[0].Version != 1 || objs[0].CreatedAt.IsZero() {
		t.Fatalf("Create should assign id, version and timestamps: %+v", objs[0])
	}

	got, err := m.Find(ctx, "Post", objs[0].ID)
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if got.Get("title") != "Hello" {
		t.Errorf("title = %v, want Hello", got.Get("title"))
	}

	got.Set("title", "mutated")
	again, _ := m.Find(ctx, "Post", objs[0].ID)
	if again.Get("title") != "Hello" {
		t.Error("Find must return a copy")
	}

	missing, err := m.Find(ctx, "Post", "nope")
	if err != nil || missing != nil {
		t.Errorf("Find(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestMemoryModelManager_CreateDuplicate(t *testing.T) {
	m := NewMemoryModelManager(datagrid.DefaultRegistry())
	obj := &model.Object{ID: "p1", Class: "Post"}
	_ = m.Create(context.Background(), obj)
	err := m.Create(context.Background(), &model.Object{ID: "p1", Class: "Post"})
	if !model.HasCode(err, model.ErrModelManager) {
		t.Errorf("duplicate Create error = %v, want MODEL_MANAGER_ERROR", err)
	}
}

func TestMemoryModelManager_UpdateOptimisticLock(t *testing.T) {
	m := NewMemoryModelManager(datagrid.DefaultRegistry())
	ctx := context.Background()
	objs := seed(t, m, "Hello")

	first, _ := m.Find(ctx, "Post", objs[0].ID)
	second, _ := m.Find(ctx, "Post", objs[0].ID)

	first.Set("title", "First")
	if err := m.Update(ctx, first); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if first.Version != 2 {
		t.Errorf("Version = %d, want 2", first.Version)
	}

	second.Set("title", "Second")
	err := m.Update(ctx, second)
	if !model.HasCode(err, model.ErrLock) {
		t.Fatalf("stale Update error = %v, want LOCK_ERROR", err)
	}

	stored, _ := m.Find(ctx, "Post", objs[0].ID)
	if stored.Get("title") != "First" {
		t.Errorf("title = %v, stale update must not change state", stored.Get("title"))
	}
}

func TestMemoryModelManager_UpdateDeleteMissing(t *testing.T) {
	m := NewMemoryModelManager(datagrid.DefaultRegistry())
	ctx := context.Background()
	ghost := &model.Object{ID: "ghost", Class: "Post"}

	if err := m.Update(ctx, ghost); !model.HasCode(err, model.ErrModelManager) {
		t.Errorf("Update(missing) = %v, want MODEL_MANAGER_ERROR", err)
	}
	if err := m.Delete(ctx, ghost); !model.HasCode(err, model.ErrModelManager) {
		t.Errorf("Delete(missing) = %v, want MODEL_MANAGER_ERROR", err)
	}
}

func TestMemoryModelManager_ExecuteFiltersSortsPages(t *testing.T) {
	m := NewMemoryModelManager(datagrid.DefaultRegistry())
	ctx := context.Background()
	seed(t, m, "Go generics", "Rust traits", "Go channels", "Go modules")

	q := datagrid.NewQuery("Post")
	q.Criteria = []datagrid.Criterion{{Field: "title", Type: "string", Operator: datagrid.OpContains, Value: "go"}}
	q.SortBy = "views"
	q.SortOrder = datagrid.SortDesc
	q.MaxResults = 2

	n, _ := m.Count(ctx, q)
	if n != 3 {
		t.Fatalf("Count = %d, want 3", n)
	}
	page, _ := m.Execute(ctx, q)
	if len(page) != 2 {
		t.Fatalf("page len = %d, want 2", len(page))
	}
	if page[0].Get("title") != "Go modules" || page[1].Get("title") != "Go channels" {
		t.Errorf("page = %v, %v; want sorted by views desc", page[0].Get("title"), page[1].Get("title"))
	}

	q.FirstResult = 2
	rest, _ := m.Execute(ctx, q)
	if len(rest) != 1 || rest[0].Get("title") != "Go generics" {
		t.Errorf("second page = %v", rest)
	}
}

func TestMemoryModelManager_BatchDelete(t *testing.T) {
	m := NewMemoryModelManager(datagrid.DefaultRegistry())
	ctx := context.Background()
	objs := seed(t, m, "a", "b", "c")

	q := datagrid.NewQuery("Post")
	q.MaxResults = 1
	m.AddIdentifiersToQuery("Post", q, []string{objs[0].ID, objs[2].ID})
	q.ResetBounds()

	n, err := m.BatchDelete(ctx, "Post", q)
	if err != nil {
		t.Fatalf("BatchDelete error: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	left, _ := m.Count(ctx, datagrid.NewQuery("Post"))
	if left != 1 {
		t.Errorf("remaining = %d, want 1", left)
	}
}

func TestMemoryModelManager_Iterate(t *testing.T) {
	m := NewMemoryModelManager(datagrid.DefaultRegistry())
	seed(t, m, "a", "b", "c")

	q := datagrid.NewQuery("Post")
	q.SortBy = "title"

	var titles []any
	for obj, err := range m.Iterate(context.Background(), q) {
		if err != nil {
			t.Fatalf("Iterate error: %v", err)
		}
		titles = append(titles, obj.Get("title"))
		if len(titles) == 2 {
			break
		}
	}
	if len(titles) != 2 || titles[0] != "a" {
		t.Errorf("titles = %v, want first two by title", titles)
	}
}
