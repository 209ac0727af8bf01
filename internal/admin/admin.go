// Package admin turns admin definitions into runtime descriptors: access
// checks, object lifecycle, forms, datagrids and URL generation for one
// modeled class.
package admin

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/crudadmin/internal/audit"
	"github.com/pitabwire/crudadmin/internal/datagrid"
	"github.com/pitabwire/crudadmin/internal/form"
	"github.com/pitabwire/crudadmin/internal/observability"
	"github.com/pitabwire/crudadmin/internal/store"
	"github.com/pitabwire/crudadmin/model"
)

// SubclassField records the subclass an object of an abstract admin was
// created as.
const SubclassField = "_subclass"

// BatchDelete is the batch action every admin with a delete route offers.
const BatchDelete = "delete"

// SecurityHandler decides whether the subject of a request may run an action.
type SecurityHandler interface {
	IsGranted(ctx context.Context, rctx *model.RequestContext, adminCode, action string, obj *model.Object, aclEnabled bool) (bool, error)
}

// Admin is the runtime descriptor of one admin definition. It is shared by
// all requests and never mutated after the pool builds it.
type Admin struct {
	def      model.AdminDefinition
	parent   *Admin
	manager  store.ModelManager
	security SecurityHandler
	filters  *datagrid.Registry
	recorder *audit.Recorder
	perPage  int
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// Code returns the admin code.
func (a *Admin) Code() string { return a.def.Code }

// Class returns the managed class.
func (a *Admin) Class() string { return a.def.Class }

// Label returns the display label, defaulting to the code.
func (a *Admin) Label() string {
	if a.def.Label != "" {
		return a.def.Label
	}
	return a.def.Code
}

// Definition returns the underlying definition.
func (a *Admin) Definition() model.AdminDefinition { return a.def }

// TranslationDomain returns the domain flash messages are translated in.
func (a *Admin) TranslationDomain() string {
	if a.def.TranslationDomain != "" {
		return a.def.TranslationDomain
	}
	return "SonataAdminBundle"
}

// IDParameter names the route parameter carrying an object id.
func (a *Admin) IDParameter() string {
	if a.def.IDParameter != "" {
		return a.def.IDParameter
	}
	return "id"
}

// Parent returns the parent admin, or nil.
func (a *Admin) Parent() *Admin { return a.parent }

// IsChild reports whether the admin is nested under a parent admin.
func (a *Admin) IsChild() bool { return a.parent != nil }

// ParentAssociation names the field of a child object holding its parent id.
func (a *Admin) ParentAssociation() string { return a.def.ParentAssociation }

// HasRoute reports whether the route is declared.
func (a *Admin) HasRoute(name string) bool { return a.def.HasRoute(name) }

// SupportsPreview reports whether create and edit offer a preview step.
func (a *Admin) SupportsPreview() bool { return a.def.SupportsPreview }

// IsACLEnabled reports whether objects carry access control entries.
func (a *Admin) IsACLEnabled() bool { return a.def.ACLEnabled }

// IsAudited reports whether changes are recorded as revisions.
func (a *Admin) IsAudited() bool { return a.def.Audited && a.recorder != nil }

// IsAbstract reports whether new objects need a subclass.
func (a *Admin) IsAbstract() bool { return a.def.Abstract }

// Subclasses returns the declared subclasses.
func (a *Admin) Subclasses() []model.SubclassDefinition { return a.def.Subclasses }

// ExportFormats returns the declared export formats.
func (a *Admin) ExportFormats() []string { return a.def.ExportFormats }

// ModelManager returns the persistence backend.
func (a *Admin) ModelManager() store.ModelManager { return a.manager }

// ListFields returns the list columns.
func (a *Admin) ListFields() []model.ColumnDefinition { return a.def.ListFields }

// ShowFields returns the show rows.
func (a *Admin) ShowFields() []model.ColumnDefinition {
	if len(a.def.ShowFields) > 0 {
		return a.def.ShowFields
	}
	out := make([]model.ColumnDefinition, 0, len(a.def.Fields))
	for _, f := range a.def.Fields {
		out = append(out, model.ColumnDefinition{Field: f.Field, Label: f.Label, Type: f.Type})
	}
	return out
}

// ListModes returns the declared list modes; "list" when none is declared.
func (a *Admin) ListModes() []string {
	if len(a.def.ListModes) == 0 {
		return []string{"list"}
	}
	return a.def.ListModes
}

// ListMode returns requested when it is a declared mode, otherwise the
// first declared mode.
func (a *Admin) ListMode(requested string) string {
	modes := a.ListModes()
	if requested != "" && slices.Contains(modes, requested) {
		return requested
	}
	return modes[0]
}

// Template returns the template override for name, or name itself.
func (a *Admin) Template(name string) string {
	if t, ok := a.def.Templates[name]; ok && t != "" {
		return t
	}
	return name
}

// ObjectName returns the display name of obj.
func (a *Admin) ObjectName(obj *model.Object) string {
	return obj.Name(a.def.NameField)
}

// IsGranted reports whether the subject of ctx may run action, optionally on
// obj.
func (a *Admin) IsGranted(ctx context.Context, action string, obj *model.Object) (bool, error) {
	if a.security == nil {
		return false, nil
	}
	return a.security.IsGranted(ctx, model.RequestContextFrom(ctx), a.def.Code, action, obj, a.def.ACLEnabled)
}

// CheckAccess fails with FORBIDDEN unless action is granted.
func (a *Admin) CheckAccess(ctx context.Context, action string, obj *model.Object) error {
	ok, err := a.IsGranted(ctx, action, obj)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewForbiddenError(fmt.Sprintf("Access Denied to the action %s", action))
	}
	return nil
}

// GetObject fetches an object by id, or nil when it does not exist.
func (a *Admin) GetObject(ctx context.Context, id string) (*model.Object, error) {
	if id == "" {
		return nil, nil
	}
	return a.manager.Find(ctx, a.def.Class, id)
}

// ActiveSubclass resolves a subclass by name.
func (a *Admin) ActiveSubclass(name string) (model.SubclassDefinition, bool) {
	for _, s := range a.def.Subclasses {
		if s.Name == name {
			return s, true
		}
	}
	return model.SubclassDefinition{}, false
}

// GetNewInstance returns an unsaved object. A known subclass is recorded on
// the object; a child object is attached to its parent.
func (a *Admin) GetNewInstance(subclass string, parent *model.Object) *model.Object {
	obj := model.NewObject(a.def.Class)
	if s, ok := a.ActiveSubclass(subclass); ok {
		obj.Set(SubclassField, s.Name)
	}
	if a.IsChild() && parent != nil {
		obj.Set(a.def.ParentAssociation, parent.ID)
	}
	return obj
}

// Create persists a new object and records its first revision. A revision
// that cannot be stored is reported but does not fail the save.
func (a *Admin) Create(ctx context.Context, obj *model.Object) error {
	if err := a.manager.Create(ctx, obj); err != nil {
		return err
	}
	a.record(ctx, audit.ActionCreate, obj)
	return nil
}

// Update persists obj and records a revision.
func (a *Admin) Update(ctx context.Context, obj *model.Object) error {
	if err := a.manager.Update(ctx, obj); err != nil {
		return err
	}
	a.record(ctx, audit.ActionUpdate, obj)
	return nil
}

// Delete removes obj and records a final revision.
func (a *Admin) Delete(ctx context.Context, obj *model.Object) error {
	if err := a.manager.Delete(ctx, obj); err != nil {
		return err
	}
	a.record(ctx, audit.ActionDelete, obj)
	return nil
}

// record runs after the object is already persisted, so its failures are
// logged and counted instead of returned.
func (a *Admin) record(ctx context.Context, action string, obj *model.Object) {
	if !a.IsAudited() {
		return
	}
	username := ""
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		username = rctx.DisplayName()
	}
	if err := a.recorder.Record(ctx, action, obj, username); err != nil {
		logger := a.logger
		if logger == nil {
			logger = zap.NewNop()
		}
		observability.RequestLogger(ctx, logger).Error("revision not recorded",
			zap.String("admin_code", a.def.Code),
			zap.String("class", a.def.Class),
			zap.String("object_id", obj.ID),
			zap.String("action", action),
			zap.Error(err),
		)
		if a.metrics != nil {
			a.metrics.RecordAuditFailure(a.def.Class, action)
		}
	}
}

// BuildForm returns the edit form of obj named uniqid.
func (a *Admin) BuildForm(obj *model.Object, uniqid string) *form.Form {
	return form.New(uniqid, a.def.Fields, obj)
}

// Datagrid binds the list filters from params. A child datagrid only lists
// the objects of parentID.
func (a *Admin) Datagrid(params url.Values, parentID string) *datagrid.Datagrid {
	perPage := a.def.PerPage
	if perPage == 0 {
		perPage = a.perPage
	}
	d := datagrid.New(a.def.Class, a.def.Filters, a.filters, params, perPage)
	if a.IsChild() && parentID != "" {
		d.Restrict(a.def.ParentAssociation, parentID)
	}
	return d
}

// BatchActions returns the declared batch actions plus the default delete
// action when the admin can delete.
func (a *Admin) BatchActions() []model.BatchActionDefinition {
	actions := slices.Clone(a.def.BatchActions)
	if !a.HasRoute(model.RouteDelete) {
		return actions
	}
	for _, b := range actions {
		if b.Name == BatchDelete {
			return actions
		}
	}
	return append([]model.BatchActionDefinition{{Name: BatchDelete, Label: "action_delete"}}, actions...)
}

// BatchAction looks up a batch action by name.
func (a *Admin) BatchAction(name string) (model.BatchActionDefinition, bool) {
	for _, b := range a.BatchActions() {
		if b.Name == name {
			return b, true
		}
	}
	return model.BatchActionDefinition{}, false
}

var routePaths = map[string]string{
	model.RouteList:                    "list",
	model.RouteCreate:                  "create",
	model.RouteBatch:                   "batch",
	model.RouteExport:                  "export",
	model.RouteEdit:                    "edit",
	model.RouteDelete:                  "delete",
	model.RouteShow:                    "show",
	model.RouteHistory:                 "history",
	model.RouteACL:                     "acl",
	model.RouteHistoryViewRevision:     "view",
	model.RouteHistoryCompareRevisions: "compare",
}

// BaseURL returns the URL prefix of the admin, nested under the parent
// object for child admins.
func (a *Admin) BaseURL(parentID string) string {
	if a.IsChild() && parentID != "" {
		return "/admin/" + a.parent.Code() + "/" + url.PathEscape(parentID) + "/" + a.def.Code
	}
	return "/admin/" + a.def.Code
}

// GenerateURL builds the URL of a collection route such as list or create.
func (a *Admin) GenerateURL(name, parentID string, params url.Values) string {
	return withQuery(a.BaseURL(parentID)+"/"+routePaths[name], params)
}

// GenerateObjectURL builds the URL of an object route such as edit or show.
// Revision routes take their revision ids as extra path segments.
func (a *Admin) GenerateObjectURL(name string, obj *model.Object, parentID string, params url.Values, revisions ...string) string {
	parts := []string{a.BaseURL(parentID), url.PathEscape(obj.ID)}
	switch name {
	case model.RouteHistoryViewRevision, model.RouteHistoryCompareRevisions:
		parts = append(parts, "history")
		for _, r := range revisions {
			parts = append(parts, url.PathEscape(r))
		}
	}
	parts = append(parts, routePaths[name])
	return withQuery(strings.Join(parts, "/"), params)
}

func withQuery(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}
