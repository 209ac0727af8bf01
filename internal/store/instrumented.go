package store

import (
	"context"
	"iter"
	"time"

	"github.com/pitabwire/crudadmin/internal/datagrid"
	"github.com/pitabwire/crudadmin/internal/observability"
	"github.com/pitabwire/crudadmin/model"
)

// Instrumented wraps a ModelManager with a span and a metric per call.
type Instrumented struct {
	next    ModelManager
	metrics *observability.Metrics
}

// NewInstrumented wraps next. metrics may be nil.
func NewInstrumented(next ModelManager, metrics *observability.Metrics) *Instrumented {
	return &Instrumented{next: next, metrics: metrics}
}

func (s *Instrumented) observe(ctx context.Context, op, class string) (context.Context, func(error)) {
	ctx, span := observability.StartStoreSpan(ctx, op, class)
	start := time.Now()
	return ctx, func(err error) {
		status := "ok"
		switch {
		case model.HasCode(err, model.ErrLock):
			status = "conflict"
		case err != nil:
			status = "error"
		}
		if s.metrics != nil {
			s.metrics.RecordStoreOperation(op, status, time.Since(start))
		}
		observability.EndSpanWithError(span, err)
	}
}

func (s *Instrumented) Find(ctx context.Context, class, id string) (obj *model.Object, err error) {
	ctx, done := s.observe(ctx, "find", class)
	defer func() { done(err) }()
	return s.next.Find(ctx, class, id)
}

func (s *Instrumented) Create(ctx context.Context, obj *model.Object) (err error) {
	ctx, done := s.observe(ctx, "create", obj.Class)
	defer func() { done(err) }()
	return s.next.Create(ctx, obj)
}

func (s *Instrumented) Update(ctx context.Context, obj *model.Object) (err error) {
	ctx, done := s.observe(ctx, "update", obj.Class)
	defer func() { done(err) }()
	return s.next.Update(ctx, obj)
}

func (s *Instrumented) Delete(ctx context.Context, obj *model.Object) (err error) {
	ctx, done := s.observe(ctx, "delete", obj.Class)
	defer func() { done(err) }()
	return s.next.Delete(ctx, obj)
}

func (s *Instrumented) BatchDelete(ctx context.Context, class string, q *datagrid.Query) (n int, err error) {
	ctx, done := s.observe(ctx, "batch_delete", class)
	defer func() { done(err) }()
	return s.next.BatchDelete(ctx, class, q)
}

func (s *Instrumented) AddIdentifiersToQuery(class string, q *datagrid.Query, ids []string) {
	s.next.AddIdentifiersToQuery(class, q, ids)
}

func (s *Instrumented) Execute(ctx context.Context, q *datagrid.Query) (objs []*model.Object, err error) {
	ctx, done := s.observe(ctx, "execute", q.Class)
	defer func() { done(err) }()
	return s.next.Execute(ctx, q)
}

func (s *Instrumented) Count(ctx context.Context, q *datagrid.Query) (n int, err error) {
	ctx, done := s.observe(ctx, "count", q.Class)
	defer func() { done(err) }()
	return s.next.Count(ctx, q)
}

func (s *Instrumented) Iterate(ctx context.Context, q *datagrid.Query) iter.Seq2[*model.Object, error] {
	return func(yield func(*model.Object, error) bool) {
		ctx, done := s.observe(ctx, "iterate", q.Class)
		var failed error
		defer func() { done(failed) }()
		for obj, err := range s.next.Iterate(ctx, q) {
			if err != nil {
				failed = err
			}
			if !yield(obj, err) {
				return
			}
		}
	}
}

// HealthCheck delegates to the wrapped manager when it supports health checks.
func (s *Instrumented) HealthCheck(ctx context.Context) error {
	if hc, ok := s.next.(observability.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}
