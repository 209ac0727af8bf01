package crud

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/pitabwire/crudadmin/internal/form"
	"github.com/pitabwire/crudadmin/internal/security"
	"github.com/pitabwire/crudadmin/model"
)

// VersionField is the edit form key carrying the version the user loaded.
// An update with a stale version fails with a lock error.
const VersionField = "_version"

func (d *Dispatcher) list(ctx context.Context, ac *ActionContext) (*Response, error) {
	a := ac.Admin
	if err := a.CheckAccess(ctx, ActionList, nil); err != nil {
		return nil, err
	}
	if h := d.hooksFor(a.Code()).PreList; h != nil {
		if resp, err := h(ctx, ac); resp != nil || err != nil {
			return resp, err
		}
	}

	listMode := a.ListMode(ac.Request.Param(ParamListMode))
	grid := a.Datagrid(ac.Request.Values(), ac.ParentID())
	pager, err := grid.Results(ctx, a.ModelManager())
	if err != nil {
		return nil, err
	}
	token, err := d.csrfToken(ac, security.IntentionBatch)
	if err != nil {
		return nil, err
	}

	return d.render(ac, "list", map[string]any{
		"action":         ActionList,
		"form":           grid.FilterDescriptors(),
		"datagrid":       grid.Descriptor(listMode, a.ListFields(), pager, batchDescriptors(ac)),
		"csrf_token":     token,
		"export_formats": d.exportFormats(ac),
	}), nil
}

func (d *Dispatcher) create(ctx context.Context, ac *ActionContext) (*Response, error) {
	a := ac.Admin
	req := ac.Request
	if err := a.CheckAccess(ctx, ActionCreate, nil); err != nil {
		return nil, err
	}

	subclass := req.Param(ParamSubclass)
	if _, ok := a.ActiveSubclass(subclass); a.IsAbstract() && !ok {
		return d.render(ac, "select_subclass", map[string]any{
			"action":     ActionCreate,
			"subclasses": a.Subclasses(),
		}), nil
	}
	if ac.IsChild() && ac.Parent == nil {
		return nil, model.NewNotFoundError(fmt.Sprintf("unable to find the parent object with id: %s", ac.ParentID()))
	}

	newObject := a.GetNewInstance(subclass, ac.Parent)
	if h := d.hooksFor(a.Code()).PreCreate; h != nil {
		if resp, err := h(ctx, ac, newObject); resp != nil || err != nil {
			return resp, err
		}
	}
	ac.Subject = newObject

	template := "edit"
	f := a.BuildForm(newObject, ac.UniqID)
	f.HandleRequest(req.Method, req.Form)

	if f.IsSubmitted() {
		valid := f.IsValid()

		if valid && (!inPreviewMode(ac) || previewApproved(ac)) {
			submitted := newObject.Clone()
			f.ApplyTo(submitted)
			ac.Subject = submitted
			if err := a.CheckAccess(ctx, ActionCreate, submitted); err != nil {
				return nil, err
			}

			err := a.Create(ctx, submitted)
			switch {
			case err == nil:
				if req.IsXMLHTTP() {
					return d.xmlHTTPSuccess(ac, submitted), nil
				}
				d.addFlash(ctx, ac, flashSuccess, "flash_create_success", nameParams(ac, submitted))
				return d.redirectTo(ctx, ac, submitted)
			case model.HasCode(err, model.ErrModelManager):
				if err := d.handleModelManagerError(ctx, ac, err); err != nil {
					return nil, err
				}
				valid = false
			default:
				return nil, err
			}
		}

		if !valid {
			if req.IsXMLHTTP() {
				return d.xmlHTTPError(ac, f), nil
			}
			d.addFlash(ctx, ac, flashError, "flash_create_error", nameParams(ac, newObject))
		} else if previewRequested(ac) {
			template = "preview"
		}
	}

	params := map[string]any{
		"action":   ActionCreate,
		"form":     f.Descriptor(ActionCreate),
		"object":   newObject,
		"objectId": nil,
	}
	if template == "preview" {
		preview := newObject.Clone()
		f.ApplyTo(preview)
		params["object"] = preview
		params["elements"] = showElements(ac, preview)
	}
	return d.render(ac, template, params), nil
}

func (d *Dispatcher) edit(ctx context.Context, ac *ActionContext) (*Response, error) {
	a := ac.Admin
	req := ac.Request
	existing, err := d.fetchObject(ctx, ac)
	if err != nil {
		return nil, err
	}
	if err := d.checkParentChildAssociation(ac, existing); err != nil {
		return nil, err
	}
	if err := a.CheckAccess(ctx, ActionEdit, existing); err != nil {
		return nil, err
	}
	if h := d.hooksFor(a.Code()).PreEdit; h != nil {
		if resp, err := h(ctx, ac, existing); resp != nil || err != nil {
			return resp, err
		}
	}
	ac.Subject = existing
	objectID := existing.ID

	template := "edit"
	f := a.BuildForm(existing, ac.UniqID)
	f.HandleRequest(req.Method, req.Form)

	if f.IsSubmitted() {
		valid := f.IsValid()

		if valid && (!inPreviewMode(ac) || previewApproved(ac)) {
			submitted := existing.Clone()
			f.ApplyTo(submitted)
			if v := req.Form.Get(f.FullName(VersionField)); v != "" {
				if version, err := strconv.ParseInt(v, 10, 64); err == nil {
					submitted.Version = version
				}
			}
			ac.Subject = submitted

			err := a.Update(ctx, submitted)
			switch {
			case err == nil:
				if req.IsXMLHTTP() {
					return d.xmlHTTPSuccess(ac, submitted), nil
				}
				d.addFlash(ctx, ac, flashSuccess, "flash_edit_success", nameParams(ac, submitted))
				return d.redirectTo(ctx, ac, submitted)
			case model.HasCode(err, model.ErrModelManager):
				if err := d.handleModelManagerError(ctx, ac, err); err != nil {
					return nil, err
				}
				valid = false
			case model.HasCode(err, model.ErrLock):
				if d.metrics != nil {
					d.metrics.RecordLockConflict(a.Code())
				}
				d.log(ctx, ac).Info("optimistic lock conflict",
					zap.String("object_id", existing.ID),
					zap.Int64("submitted_version", submitted.Version),
					zap.Int64("stored_version", existing.Version))
				d.addFlash(ctx, ac, flashError, "flash_lock_error", map[string]string{
					"%name%":       html.EscapeString(a.ObjectName(existing)),
					"%link_start%": fmt.Sprintf(`<a href="%s">`, a.GenerateObjectURL(ActionEdit, existing, ac.ParentID(), nil)),
					"%link_end%":   "</a>",
					"%version%":    strconv.FormatInt(submitted.Version, 10),
				})
			default:
				return nil, err
			}
		}

		if !valid {
			if req.IsXMLHTTP() {
				return d.xmlHTTPError(ac, f), nil
			}
			d.addFlash(ctx, ac, flashError, "flash_edit_error", nameParams(ac, existing))
		} else if previewRequested(ac) {
			template = "preview"
		}
	}

	params := map[string]any{
		"action":   ActionEdit,
		"form":     editFormDescriptor(f, existing),
		"object":   existing,
		"objectId": objectID,
	}
	if template == "preview" {
		preview := existing.Clone()
		f.ApplyTo(preview)
		params["object"] = preview
		params["elements"] = showElements(ac, preview)
	}
	return d.render(ac, template, params), nil
}

// editFormDescriptor adds the hidden version field to the edit form.
func editFormDescriptor(f *form.Form, obj *model.Object) model.FormDescriptor {
	desc := f.Descriptor(ActionEdit)
	desc.Fields = append(desc.Fields, model.FieldDescriptor{
		Field:    VersionField,
		FullName: f.FullName(VersionField),
		Type:     "hidden",
		Hidden:   true,
		ReadOnly: true,
		Value:    obj.Version,
	})
	return desc
}

func (d *Dispatcher) delete(ctx context.Context, ac *ActionContext) (*Response, error) {
	a := ac.Admin
	req := ac.Request
	obj, err := d.fetchObject(ctx, ac)
	if err != nil {
		return nil, err
	}
	if err := d.checkParentChildAssociation(ac, obj); err != nil {
		return nil, err
	}
	if err := a.CheckAccess(ctx, ActionDelete, obj); err != nil {
		return nil, err
	}
	if h := d.hooksFor(a.Code()).PreDelete; h != nil {
		if resp, err := h(ctx, ac, obj); resp != nil || err != nil {
			return resp, err
		}
	}
	ac.Subject = obj

	if req.RestMethod() == http.MethodDelete {
		if err := d.validateCSRFToken(ac, security.IntentionDelete); err != nil {
			return nil, err
		}
		params := nameParams(ac, obj)

		err := a.Delete(ctx, obj)
		switch {
		case err == nil:
			if req.IsXMLHTTP() {
				return JSON(http.StatusOK, ResultEnvelope{Result: ResultOK}), nil
			}
			d.addFlash(ctx, ac, flashSuccess, "flash_delete_success", params)
		case model.HasCode(err, model.ErrModelManager):
			if err := d.handleModelManagerError(ctx, ac, err); err != nil {
				return nil, err
			}
			if req.IsXMLHTTP() {
				return JSON(http.StatusOK, ResultEnvelope{Result: ResultError}), nil
			}
			d.addFlash(ctx, ac, flashError, "flash_delete_error", params)
		default:
			return nil, err
		}
		return d.redirectTo(ctx, ac, obj)
	}

	token, err := d.csrfToken(ac, security.IntentionDelete)
	if err != nil {
		return nil, err
	}
	return d.render(ac, "delete", map[string]any{
		"action":     ActionDelete,
		"object":     obj,
		"csrf_token": token,
	}), nil
}

func (d *Dispatcher) show(ctx context.Context, ac *ActionContext) (*Response, error) {
	a := ac.Admin
	obj, err := d.fetchObject(ctx, ac)
	if err != nil {
		return nil, err
	}
	if err := d.checkParentChildAssociation(ac, obj); err != nil {
		return nil, err
	}
	if err := a.CheckAccess(ctx, ActionShow, obj); err != nil {
		return nil, err
	}
	if h := d.hooksFor(a.Code()).PreShow; h != nil {
		if resp, err := h(ctx, ac, obj); resp != nil || err != nil {
			return resp, err
		}
	}
	ac.Subject = obj

	return d.render(ac, "show", map[string]any{
		"action":   ActionShow,
		"object":   obj,
		"elements": showElements(ac, obj),
	}), nil
}
