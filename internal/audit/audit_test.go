package audit

import (
	"context"
	"testing"
	"time"

	"github.com/pitabwire/crudadmin/model"
)

func post(id, title string, version int64) *model.Object {
	obj := &model.Object{ID: id, Class: "Post", Version: version, UpdatedAt: time.Now().UTC()}
	obj.Set("title", title)
	return obj
}

func TestRecorder_RecordAndRead(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store)
	ctx := context.Background()

	obj := post("p1", "Draft", 1)
	if err := rec.Record(ctx, ActionCreate, obj, "alice"); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	obj.Set("title", "Published")
	if err := rec.Record(ctx, ActionUpdate, obj, "bob"); err != nil {
		t.Fatalf("Record error: %v", err)
	}

	revs, err := store.FindRevisions(ctx, "Post", "p1")
	if err != nil {
		t.Fatalf("FindRevisions error: %v", err)
	}
	if len(revs) != 2 {
		t.Fatalf("len(revs) = %d, want 2", len(revs))
	}
	if revs[0].Action != ActionUpdate || revs[0].Username != "bob" {
		t.Errorf("revs[0] = %+v, want newest first", revs[0])
	}
	if revs[1].Object.Get("title") != "Draft" {
		t.Errorf("snapshot title = %v, want Draft", revs[1].Object.Get("title"))
	}

	got, err := store.Find(ctx, "Post", "p1", revs[1].ID)
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if got == nil || got.Object.Get("title") != "Draft" {
		t.Errorf("Find = %+v, want the Draft revision", got)
	}
}

func TestMemoryStore_FindMissing(t *testing.T) {
	store := NewMemoryStore()
	got, err := store.Find(context.Background(), "Post", "p1", "42")
	if err != nil || got != nil {
		t.Errorf("Find(missing) = %v, %v; want nil, nil", got, err)
	}
	revs, _ := store.FindRevisions(context.Background(), "Post", "p1")
	if len(revs) != 0 {
		t.Errorf("FindRevisions(unknown) = %v, want empty", revs)
	}
}

func TestMemoryStore_snapshotsAreIsolated(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store)
	obj := post("p1", "Draft", 1)
	_ = rec.Record(context.Background(), ActionCreate, obj, "alice")

	obj.Set("title", "changed after recording")
	revs, _ := store.FindRevisions(context.Background(), "Post", "p1")
	if revs[0].Object.Get("title") != "Draft" {
		t.Errorf("snapshot changed with the live object: %v", revs[0].Object.Get("title"))
	}
}

func TestManager(t *testing.T) {
	m := NewManager()
	if m.HasReader("Post") {
		t.Error("HasReader before Register = true")
	}
	if _, err := m.GetReader("Post"); !model.HasCode(err, model.ErrNotFound) {
		t.Errorf("GetReader(unregistered) error = %v, want NOT_FOUND", err)
	}

	store := NewMemoryStore()
	m.Register("Post", store)
	if !m.HasReader("Post") {
		t.Error("HasReader after Register = false")
	}
	r, err := m.GetReader("Post")
	if err != nil || r != Reader(store) {
		t.Errorf("GetReader = %v, %v", r, err)
	}

	var nilManager *Manager
	if nilManager.HasReader("Post") {
		t.Error("nil manager HasReader = true")
	}
}
