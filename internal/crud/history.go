package crud

import (
	"context"
	"fmt"

	"github.com/pitabwire/crudadmin/internal/audit"
	"github.com/pitabwire/crudadmin/model"
)

func (d *Dispatcher) auditReader(ac *ActionContext) (audit.Reader, error) {
	class := ac.Admin.Class()
	if !d.audit.HasReader(class) {
		return nil, model.NewNotFoundError(fmt.Sprintf("unable to find the audit reader for class : %s", class))
	}
	return d.audit.GetReader(class)
}

func (d *Dispatcher) findRevision(ctx context.Context, ac *ActionContext, reader audit.Reader, revision string) (*model.Revision, error) {
	class := ac.Admin.Class()
	rev, err := reader.Find(ctx, class, ac.Request.ID, revision)
	if err != nil {
		return nil, err
	}
	if rev == nil || rev.Object == nil {
		return nil, model.NewNotFoundError(fmt.Sprintf(
			"unable to find the targeted object `%s` from the revision `%s` with classname : `%s`",
			ac.Request.ID, revision, class))
	}
	return rev, nil
}

func (d *Dispatcher) history(ctx context.Context, ac *ActionContext) (*Response, error) {
	obj, err := d.fetchObject(ctx, ac)
	if err != nil {
		return nil, err
	}
	if err := d.checkParentChildAssociation(ac, obj); err != nil {
		return nil, err
	}
	if err := ac.Admin.CheckAccess(ctx, ActionHistory, obj); err != nil {
		return nil, err
	}
	reader, err := d.auditReader(ac)
	if err != nil {
		return nil, err
	}
	ac.Subject = obj

	revisions, err := reader.FindRevisions(ctx, ac.Admin.Class(), obj.ID)
	if err != nil {
		return nil, err
	}
	// The reader decides the order; the first revision it returns is the
	// current one.
	var current *model.Revision
	if len(revisions) > 0 {
		current = &revisions[0]
	}

	return d.render(ac, "history", map[string]any{
		"action":          ActionHistory,
		"object":          obj,
		"revisions":       revisions,
		"currentRevision": current,
	}), nil
}

func (d *Dispatcher) historyViewRevision(ctx context.Context, ac *ActionContext) (*Response, error) {
	obj, err := d.fetchObject(ctx, ac)
	if err != nil {
		return nil, err
	}
	if err := d.checkParentChildAssociation(ac, obj); err != nil {
		return nil, err
	}
	if err := ac.Admin.CheckAccess(ctx, ActionHistoryViewRevision, obj); err != nil {
		return nil, err
	}
	reader, err := d.auditReader(ac)
	if err != nil {
		return nil, err
	}

	rev, err := d.findRevision(ctx, ac, reader, ac.Request.Revision)
	if err != nil {
		return nil, err
	}
	ac.Subject = rev.Object

	return d.render(ac, "show", map[string]any{
		"action":   ActionShow,
		"object":   rev.Object,
		"revision": rev,
		"elements": showElements(ac, rev.Object),
	}), nil
}

func (d *Dispatcher) historyCompareRevisions(ctx context.Context, ac *ActionContext) (*Response, error) {
	if err := ac.Admin.CheckAccess(ctx, ActionHistoryCompareRevisions, nil); err != nil {
		return nil, err
	}
	obj, err := d.fetchObject(ctx, ac)
	if err != nil {
		return nil, err
	}
	if err := d.checkParentChildAssociation(ac, obj); err != nil {
		return nil, err
	}
	reader, err := d.auditReader(ac)
	if err != nil {
		return nil, err
	}

	base, err := d.findRevision(ctx, ac, reader, ac.Request.Base)
	if err != nil {
		return nil, err
	}
	compare, err := d.findRevision(ctx, ac, reader, ac.Request.Compare)
	if err != nil {
		return nil, err
	}
	ac.Subject = base.Object

	return d.render(ac, "show_compare", map[string]any{
		"action":           ActionShow,
		"object":           base.Object,
		"object_compare":   compare.Object,
		"elements":         showElements(ac, base.Object),
		"elements_compare": showElements(ac, compare.Object),
	}), nil
}
