package crud

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/pitabwire/crudadmin/internal/datagrid"
	"github.com/pitabwire/crudadmin/internal/form"
	"github.com/pitabwire/crudadmin/internal/security"
	"github.com/pitabwire/crudadmin/internal/session"
	"github.com/pitabwire/crudadmin/model"
)

// MessageDomain is the translation domain of the dispatcher's own flash
// messages.
const MessageDomain = "SonataAdminBundle"

// fetchObject loads the object named by the id route parameter. A missing
// object is NOT_FOUND.
func (d *Dispatcher) fetchObject(ctx context.Context, ac *ActionContext) (*model.Object, error) {
	id := ac.Request.ID
	obj, err := ac.Admin.GetObject(ctx, id)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, model.NewNotFoundError(fmt.Sprintf("unable to find the object with id: %s", id))
	}
	return obj, nil
}

// checkParentChildAssociation fails when obj does not belong to the parent
// object of the request.
func (d *Dispatcher) checkParentChildAssociation(ac *ActionContext, obj *model.Object) error {
	if !ac.IsChild() {
		return nil
	}
	want := ""
	parentName := ac.Request.ParentID
	if ac.Parent != nil {
		want = ac.Parent.ID
		parentName = ac.Admin.Parent().ObjectName(ac.Parent)
	}
	got := obj.Get(ac.Admin.ParentAssociation())
	if want == "" || got == nil || fmt.Sprint(got) != want {
		return model.NewConfigurationError(fmt.Sprintf("There is no association between %q and %q",
			parentName, ac.Admin.ObjectName(obj)))
	}
	return nil
}

func (d *Dispatcher) addFlash(ctx context.Context, ac *ActionContext, typ, message string, params map[string]string) {
	if d.flashes == nil || ac.Request.SessionID == "" {
		return
	}
	msg := model.FlashMessage{Type: typ, Message: message, Domain: MessageDomain, Params: params}
	if err := d.flashes.Add(ctx, ac.Request.SessionID, msg); err != nil {
		d.log(ctx, ac).Warn("flash message dropped", zap.String("message", message), zap.Error(err))
		return
	}
	if d.metrics != nil {
		d.metrics.RecordFlash(typ)
	}
}

// nameParams returns the "%name%" flash parameter of obj, HTML-escaped.
func nameParams(ac *ActionContext, obj *model.Object) map[string]string {
	return map[string]string{"%name%": html.EscapeString(ac.Admin.ObjectName(obj))}
}

func (d *Dispatcher) csrfToken(ac *ActionContext, intention string) (string, error) {
	if d.csrf == nil {
		return "", nil
	}
	return d.csrf.Token(ac.Request.SessionID, intention)
}

func (d *Dispatcher) validateCSRFToken(ac *ActionContext, intention string) error {
	if d.csrf == nil {
		return nil
	}
	token := ac.Request.Param(security.TokenField)
	if d.csrf.IsValid(ac.Request.SessionID, intention, token) {
		return nil
	}
	if d.metrics != nil {
		d.metrics.RecordCSRFFailure(intention)
	}
	return model.NewBadRequestError("The csrf token is not valid, CSRF attack?")
}

// handleModelManagerError propagates err in debug mode and logs it
// otherwise.
func (d *Dispatcher) handleModelManagerError(ctx context.Context, ac *ActionContext, err error) error {
	if d.debug {
		return err
	}
	fields := []zap.Field{zap.Error(err)}
	if prev := errors.Unwrap(err); prev != nil {
		fields = append(fields, zap.String("previous_exception_message", prev.Error()))
	}
	d.log(ctx, ac).Error("model manager failure", fields...)
	return nil
}

// render adds the parameters every template receives.
func (d *Dispatcher) render(ac *ActionContext, template string, params map[string]any) *Response {
	base := "layout"
	if ac.Request.IsXMLHTTP() {
		base = "ajax"
	}
	a := ac.Admin
	if _, ok := params["admin"]; !ok {
		params["admin"] = map[string]any{
			"code":               a.Code(),
			"label":              a.Label(),
			"class":              a.Class(),
			"routes":             a.Definition().Routes,
			"translation_domain": a.TranslationDomain(),
			"is_child":           a.IsChild(),
		}
	}
	if _, ok := params["base_template"]; !ok {
		params["base_template"] = a.Template(base)
	}
	if ac.IsChild() {
		params["parent_id"] = ac.ParentID()
	}
	return Render(a.Template(template), params)
}

func (d *Dispatcher) xmlHTTPSuccess(ac *ActionContext, obj *model.Object) *Response {
	if !ac.Request.AcceptsJSON() {
		return JSON(http.StatusNotAcceptable, map[string]any{})
	}
	return JSON(http.StatusOK, SuccessEnvelope{
		Result:     ResultOK,
		ObjectID:   obj.ID,
		ObjectName: html.EscapeString(ac.Admin.ObjectName(obj)),
	})
}

func (d *Dispatcher) xmlHTTPError(ac *ActionContext, f *form.Form) *Response {
	if !ac.Request.AcceptsJSON() {
		return JSON(http.StatusNotAcceptable, map[string]any{})
	}
	return JSON(http.StatusBadRequest, ErrorEnvelope{Result: ResultError, Errors: f.ErrorMessages()})
}

// showElements pairs the show fields of the admin with the values of obj.
func showElements(ac *ActionContext, obj *model.Object) []model.ColumnDescriptor {
	fields := ac.Admin.ShowFields()
	out := make([]model.ColumnDescriptor, 0, len(fields))
	for _, f := range fields {
		out = append(out, model.ColumnDescriptor{Field: f.Field, Label: f.Label, Type: f.Type, Value: obj.Get(f.Field)})
	}
	return out
}

// filterParameters returns the current filter to carry through redirects.
func filterParameters(ac *ActionContext) url.Values {
	return datagrid.FilterParameters(ac.Request.Values())
}

func (d *Dispatcher) redirectToList(ac *ActionContext) *Response {
	return Redirect(ac.Admin.GenerateURL(ActionList, ac.ParentID(), filterParameters(ac)))
}

// redirectTo picks where to go after a successful create, update or delete.
func (d *Dispatcher) redirectTo(ctx context.Context, ac *ActionContext, obj *model.Object) (*Response, error) {
	req := ac.Request
	if req.Has(BtnUpdateAndList) || req.Has(BtnCreateAndList) {
		return d.redirectToList(ac), nil
	}

	location := ""
	if req.Has(BtnCreateAndCreate) {
		var params url.Values
		if _, ok := ac.Admin.ActiveSubclass(req.Param(ParamSubclass)); ok {
			params = url.Values{ParamSubclass: {req.Param(ParamSubclass)}}
		}
		location = ac.Admin.GenerateURL(ActionCreate, ac.ParentID(), params)
	}

	if req.RestMethod() == http.MethodDelete {
		return d.redirectToList(ac), nil
	}

	if location == "" {
		for _, route := range []string{ActionEdit, ActionShow} {
			if !ac.Admin.HasRoute(route) {
				continue
			}
			granted, err := ac.Admin.IsGranted(ctx, route, obj)
			if err != nil {
				return nil, err
			}
			if granted {
				location = ac.Admin.GenerateObjectURL(route, obj, ac.ParentID(), req.Tab())
				break
			}
		}
	}

	if location == "" {
		return d.redirectToList(ac), nil
	}
	return Redirect(location), nil
}

// previewRequested, previewApproved and inPreviewMode derive the preview
// state of a submission. Without preview support the state is inert.
func previewRequested(ac *ActionContext) bool {
	return ac.Admin.SupportsPreview() && ac.Request.Has(BtnPreview)
}

func previewApproved(ac *ActionContext) bool {
	return ac.Admin.SupportsPreview() && ac.Request.Has(BtnPreviewApprove)
}

func inPreviewMode(ac *ActionContext) bool {
	return previewRequested(ac) || previewApproved(ac) ||
		(ac.Admin.SupportsPreview() && ac.Request.Has(BtnPreviewDecline))
}

const (
	flashSuccess = session.FlashSuccess
	flashError   = session.FlashError
	flashInfo    = session.FlashInfo
)
