// Package crud dispatches admin requests through the create, read, update,
// delete, list, batch, history, export and ACL workflows.
package crud

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/crudadmin/internal/acl"
	"github.com/pitabwire/crudadmin/internal/admin"
	"github.com/pitabwire/crudadmin/internal/audit"
	"github.com/pitabwire/crudadmin/internal/export"
	"github.com/pitabwire/crudadmin/internal/observability"
	"github.com/pitabwire/crudadmin/internal/security"
	"github.com/pitabwire/crudadmin/internal/session"
	"github.com/pitabwire/crudadmin/model"
)

// Action names. They double as the access check names.
const (
	ActionList                    = "list"
	ActionCreate                  = "create"
	ActionEdit                    = "edit"
	ActionDelete                  = "delete"
	ActionShow                    = "show"
	ActionBatch                   = "batch"
	ActionHistory                 = "history"
	ActionHistoryViewRevision     = "historyViewRevision"
	ActionHistoryCompareRevisions = "historyCompareRevisions"
	ActionExport                  = "export"
	ActionACL                     = "acl"
)

// routeOf maps each action to the route an admin must declare for it.
var routeOf = map[string]string{
	ActionList:                    model.RouteList,
	ActionCreate:                  model.RouteCreate,
	ActionEdit:                    model.RouteEdit,
	ActionDelete:                  model.RouteDelete,
	ActionShow:                    model.RouteShow,
	ActionBatch:                   model.RouteBatch,
	ActionHistory:                 model.RouteHistory,
	ActionHistoryViewRevision:     model.RouteHistoryViewRevision,
	ActionHistoryCompareRevisions: model.RouteHistoryCompareRevisions,
	ActionExport:                  model.RouteExport,
	ActionACL:                     model.RouteACL,
}

// AdminResolver looks admins up by code. *admin.Pool implements it.
type AdminResolver interface {
	Resolve(code string) (*admin.Admin, error)
	ResolveChild(parentCode, code string) (*admin.Admin, error)
}

// ActionContext is the per-request state of one action. The shared admin
// descriptor is never mutated; the subject, form id and parent live here.
type ActionContext struct {
	Admin   *admin.Admin
	Request *Request
	// Subject is the object the action works on, once resolved.
	Subject *model.Object
	// UniqID names the edit form of this request.
	UniqID string
	// Parent is the parent object of a child admin, nil when it does not
	// exist or the admin is not a child.
	Parent *model.Object
}

// IsChild reports whether the action runs on a child admin.
func (ac *ActionContext) IsChild() bool { return ac.Admin.IsChild() }

// ParentID returns the parent id route parameter.
func (ac *ActionContext) ParentID() string { return ac.Request.ParentID }

// ActionEvent describes the outcome of one dispatched action.
type ActionEvent struct {
	AdminCode string
	Action    string
	ObjectID  string
	SubjectID string
	Method    string
	// Form is the submitted payload, unredacted.
	Form     url.Values
	Outcome  string
	Duration time.Duration
	Err      error
}

// Observer receives action outcomes.
type Observer interface {
	OnAction(ctx context.Context, event ActionEvent)
}

type noopObserver struct{}

func (noopObserver) OnAction(context.Context, ActionEvent) {}

// Hooks run after an action validated its preconditions and before it does
// any work. A hook returning a response short-circuits the action.
type Hooks struct {
	PreList   func(ctx context.Context, ac *ActionContext) (*Response, error)
	PreCreate func(ctx context.Context, ac *ActionContext, obj *model.Object) (*Response, error)
	PreEdit   func(ctx context.Context, ac *ActionContext, obj *model.Object) (*Response, error)
	PreDelete func(ctx context.Context, ac *ActionContext, obj *model.Object) (*Response, error)
	PreShow   func(ctx context.Context, ac *ActionContext, obj *model.Object) (*Response, error)
	// PreBatchAction may change the selection before it is applied to the
	// query.
	PreBatchAction func(ctx context.Context, ac *ActionContext, batch *BatchRequest) error
}

// Dispatcher runs admin actions. Collaborators other than the admin
// resolver are optional; a nil collaborator disables what depends on it.
type Dispatcher struct {
	admins   AdminResolver
	audit    *audit.Manager
	csrf     *security.CSRFManager
	exporter *export.Exporter
	acl      *acl.Manipulator
	flashes  session.FlashBag
	observer Observer
	logger   *zap.Logger
	metrics  *observability.Metrics
	debug    bool
	now      func() time.Time
	newID    func() string

	mu    sync.RWMutex
	hooks map[string]Hooks
	batch map[string]map[string]batchEntry
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAuditManager sets the revision readers used by the history actions.
func WithAuditManager(m *audit.Manager) Option {
	return func(d *Dispatcher) { d.audit = m }
}

// WithCSRF sets the CSRF manager. Without one, tokens are neither issued
// nor checked.
func WithCSRF(m *security.CSRFManager) Option {
	return func(d *Dispatcher) { d.csrf = m }
}

// WithExporter sets the exporter used by the export action.
func WithExporter(e *export.Exporter) Option {
	return func(d *Dispatcher) { d.exporter = e }
}

// WithACL sets the ACL manipulator used by the acl action.
func WithACL(m *acl.Manipulator) Option {
	return func(d *Dispatcher) { d.acl = m }
}

// WithFlashBag sets where flash messages go.
func WithFlashBag(b session.FlashBag) Option {
	return func(d *Dispatcher) { d.flashes = b }
}

// WithObserver sets the action observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics records action, batch, flash and lock metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithDebug makes model manager failures propagate instead of degrading the
// form to invalid.
func WithDebug(debug bool) Option {
	return func(d *Dispatcher) { d.debug = debug }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithHooks installs the pre-action hooks of an admin.
func WithHooks(adminCode string, h Hooks) Option {
	return func(d *Dispatcher) { d.hooks[adminCode] = h }
}

// New creates a Dispatcher over admins.
func New(admins AdminResolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		admins:   admins,
		observer: noopObserver{},
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    newUniqID,
		hooks:    make(map[string]Hooks),
		batch:    make(map[string]map[string]batchEntry),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func newUniqID() string {
	return "s" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Dispatch resolves the admin of req and runs action.
func (d *Dispatcher) Dispatch(ctx context.Context, action string, req *Request) (*Response, error) {
	start := d.now()
	ctx, span := observability.StartActionSpan(ctx, req.Code, action, req.ID)

	resp, err := d.dispatch(ctx, action, req)
	if err == nil && resp == nil {
		err = model.NewConfigurationError(fmt.Sprintf("action %q of admin %q produced no response", action, req.Code))
	}
	observability.EndSpanWithError(span, err)

	outcome := "error"
	if err == nil {
		outcome = resp.Kind.String()
	}
	event := ActionEvent{
		AdminCode: req.Code,
		Action:    action,
		ObjectID:  req.ID,
		Method:    req.Method,
		Form:      req.Form,
		Outcome:   outcome,
		Duration:  d.now().Sub(start),
		Err:       err,
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		event.SubjectID = rctx.SubjectID
	}
	if d.metrics != nil {
		d.metrics.RecordAction(req.Code, action, outcome, event.Duration)
	}
	d.observer.OnAction(ctx, event)
	return resp, err
}

func (d *Dispatcher) dispatch(ctx context.Context, action string, req *Request) (*Response, error) {
	route, ok := routeOf[action]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("unknown action %q", action))
	}
	ac, err := d.actionContext(ctx, req)
	if err != nil {
		return nil, err
	}
	if !ac.Admin.HasRoute(route) {
		return nil, model.NewNotFoundError(fmt.Sprintf("route %q is not declared on admin %q", route, ac.Admin.Code()))
	}

	switch action {
	case ActionList:
		return d.list(ctx, ac)
	case ActionCreate:
		return d.create(ctx, ac)
	case ActionEdit:
		return d.edit(ctx, ac)
	case ActionDelete:
		return d.delete(ctx, ac)
	case ActionShow:
		return d.show(ctx, ac)
	case ActionBatch:
		return d.batchAction(ctx, ac)
	case ActionHistory:
		return d.history(ctx, ac)
	case ActionHistoryViewRevision:
		return d.historyViewRevision(ctx, ac)
	case ActionHistoryCompareRevisions:
		return d.historyCompareRevisions(ctx, ac)
	case ActionExport:
		return d.export(ctx, ac)
	default:
		return d.aclAction(ctx, ac)
	}
}

func (d *Dispatcher) actionContext(ctx context.Context, req *Request) (*ActionContext, error) {
	var (
		a   *admin.Admin
		err error
	)
	if req.ParentCode != "" {
		a, err = d.admins.ResolveChild(req.ParentCode, req.Code)
	} else {
		a, err = d.admins.Resolve(req.Code)
	}
	if err != nil {
		return nil, err
	}

	ac := &ActionContext{Admin: a, Request: req, UniqID: req.Param(ParamUniqID)}
	if ac.UniqID == "" {
		ac.UniqID = d.newID()
	}
	if a.IsChild() && req.ParentID != "" {
		parent, err := a.Parent().GetObject(ctx, req.ParentID)
		if err != nil {
			return nil, err
		}
		ac.Parent = parent
	}
	return ac, nil
}

func (d *Dispatcher) hooksFor(code string) Hooks {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hooks[code]
}

func (d *Dispatcher) log(ctx context.Context, ac *ActionContext) *zap.Logger {
	return observability.RequestLogger(ctx, d.logger).With(zap.String("admin_code", ac.Admin.Code()))
}
