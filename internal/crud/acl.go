package crud

import (
	"context"
	"net/http"

	"github.com/pitabwire/crudadmin/internal/acl"
	"github.com/pitabwire/crudadmin/model"
)

func (d *Dispatcher) aclAction(ctx context.Context, ac *ActionContext) (*Response, error) {
	a := ac.Admin
	req := ac.Request
	if !a.IsACLEnabled() || d.acl == nil {
		return nil, model.NewNotFoundError("ACL are not enabled for this admin")
	}
	obj, err := d.fetchObject(ctx, ac)
	if err != nil {
		return nil, err
	}
	if err := d.checkParentChildAssociation(ac, obj); err != nil {
		return nil, err
	}
	if err := a.CheckAccess(ctx, ActionACL, obj); err != nil {
		return nil, err
	}
	ac.Subject = obj

	var current []string
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		current = append(current, rctx.DisplayName())
	}
	page, err := d.acl.Load(ctx, obj, current...)
	if err != nil {
		return nil, err
	}
	usersForm, rolesForm := page.UsersForm, page.RolesForm

	if req.Method == http.MethodPost {
		var (
			f      *acl.Form
			update func(context.Context, *model.Object, *acl.Form) error
		)
		switch {
		case usersForm.SubmittedIn(req.Form):
			f, update = usersForm, d.acl.UpdateUsers
		case rolesForm.SubmittedIn(req.Form):
			f, update = rolesForm, d.acl.UpdateRoles
		}
		if f != nil {
			f.HandleRequest(req.Form)
			if f.IsValid() {
				if err := update(ctx, obj, f); err != nil {
					return nil, err
				}
				d.addFlash(ctx, ac, flashSuccess, "flash_acl_edit_success", nil)
				return Redirect(a.GenerateObjectURL(ActionACL, obj, ac.ParentID(), nil)), nil
			}
		}
	}

	return d.render(ac, "acl", map[string]any{
		"action":       ActionACL,
		"permissions":  d.acl.Permissions(),
		"object":       obj,
		"users":        page.Users,
		"roles":        page.Roles,
		"aclUsersForm": usersForm.Descriptor(),
		"aclRolesForm": rolesForm.Descriptor(),
	}), nil
}
