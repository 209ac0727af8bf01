package store

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/crudadmin/internal/datagrid"
	"github.com/pitabwire/crudadmin/internal/observability"
	"github.com/pitabwire/crudadmin/model"
)

func TestInstrumented_recordsOperations(t *testing.T) {
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	mem := NewMemoryModelManager(datagrid.DefaultRegistry())
	s := NewInstrumented(mem, metrics)
	ctx := context.Background()

	obj := model.NewObject("Post")
	if err := s.Create(ctx, obj); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	stale := obj.Clone()
	if err := s.Update(ctx, obj); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if err := s.Update(ctx, stale); !model.HasCode(err, model.ErrLock) {
		t.Fatalf("stale Update error = %v, want LOCK_ERROR", err)
	}
	for range s.Iterate(ctx, datagrid.NewQuery("Post")) {
	}

	checks := []struct {
		op, status string
		want       float64
	}{
		{"create", "ok", 1},
		{"update", "ok", 1},
		{"update", "conflict", 1},
		{"iterate", "ok", 1},
	}
	for _, c := range checks {
		got := testutil.ToFloat64(metrics.StoreOperationsTotal.WithLabelValues(c.op, c.status))
		if got != c.want {
			t.Errorf("store ops{%s,%s} = %v, want %v", c.op, c.status, got, c.want)
		}
	}
	if err := s.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck error: %v", err)
	}
}

func TestInstrumented_nilMetrics(t *testing.T) {
	s := NewInstrumented(NewMemoryModelManager(datagrid.DefaultRegistry()), nil)
	if _, err := s.Find(context.Background(), "Post", "x"); err != nil {
		t.Fatalf("Find error: %v", err)
	}
}
