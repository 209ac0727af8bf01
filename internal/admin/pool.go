package admin

import (
	"fmt"
	"slices"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pitabwire/crudadmin/internal/audit"
	"github.com/pitabwire/crudadmin/internal/datagrid"
	"github.com/pitabwire/crudadmin/internal/observability"
	"github.com/pitabwire/crudadmin/internal/store"
	"github.com/pitabwire/crudadmin/model"
)

// Dependencies are the collaborators shared by every admin of a pool.
type Dependencies struct {
	ModelManager store.ModelManager
	Security     SecurityHandler
	Filters      *datagrid.Registry
	// Recorder may be nil; audited admins then record nothing.
	Recorder *audit.Recorder
	// PerPage is the list page size of admins that declare none.
	PerPage int
	// Logger and Metrics report revisions that could not be recorded.
	// Both may be nil.
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Pool resolves admins by code. Replace swaps the whole set atomically so
// in-flight requests keep the admins they resolved.
type Pool struct {
	deps   Dependencies
	admins atomic.Pointer[map[string]*Admin]
}

// NewPool builds a pool over defs.
func NewPool(deps Dependencies, defs []model.AdminDefinition) (*Pool, error) {
	if deps.Filters == nil {
		deps.Filters = datagrid.DefaultRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	p := &Pool{deps: deps}
	if err := p.Replace(defs); err != nil {
		return nil, err
	}
	return p, nil
}

// Replace rebuilds the pool from defs. On error the previous admins stay.
func (p *Pool) Replace(defs []model.AdminDefinition) error {
	admins := make(map[string]*Admin, len(defs))
	for _, def := range defs {
		if _, dup := admins[def.Code]; dup {
			return model.NewConfigurationError(fmt.Sprintf("admin %q is declared twice", def.Code))
		}
		admins[def.Code] = &Admin{
			def:      def,
			manager:  p.deps.ModelManager,
			security: p.deps.Security,
			filters:  p.deps.Filters,
			recorder: p.deps.Recorder,
			perPage:  p.deps.PerPage,
			logger:   p.deps.Logger,
			metrics:  p.deps.Metrics,
		}
	}
	for _, a := range admins {
		if a.def.Parent == "" {
			continue
		}
		parent, ok := admins[a.def.Parent]
		if !ok {
			return model.NewConfigurationError(fmt.Sprintf("admin %q has unknown parent %q", a.def.Code, a.def.Parent))
		}
		a.parent = parent
	}
	p.admins.Store(&admins)
	return nil
}

// Resolve returns the admin with code.
func (p *Pool) Resolve(code string) (*Admin, error) {
	a, ok := (*p.admins.Load())[code]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("admin %q not found", code))
	}
	return a, nil
}

// ResolveChild returns the admin code nested under parentCode.
func (p *Pool) ResolveChild(parentCode, code string) (*Admin, error) {
	a, err := p.Resolve(code)
	if err != nil {
		return nil, err
	}
	if a.parent == nil || a.parent.Code() != parentCode {
		return nil, model.NewNotFoundError(fmt.Sprintf("admin %q is not a child of %q", code, parentCode))
	}
	return a, nil
}

// Codes returns the codes of all admins, sorted.
func (p *Pool) Codes() []string {
	admins := *p.admins.Load()
	out := make([]string, 0, len(admins))
	for code := range admins {
		out = append(out, code)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of admins.
func (p *Pool) Len() int {
	return len(*p.admins.Load())
}
