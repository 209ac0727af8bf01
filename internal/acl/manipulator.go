package acl

import (
	"context"
	"fmt"
	"slices"

	"github.com/pitabwire/crudadmin/model"
)

// RoleSource lists the roles that can be granted permissions.
type RoleSource interface {
	Roles() []string
}

// Manipulator reads and edits the ACL of admin objects.
type Manipulator struct {
	store Store
	roles RoleSource
}

// NewManipulator creates a manipulator over store. roles may be nil.
func NewManipulator(store Store, roles RoleSource) *Manipulator {
	return &Manipulator{store: store, roles: roles}
}

// Store returns the underlying entry store.
func (m *Manipulator) Store() Store { return m.store }

// Permissions returns the permissions editable on the acl page.
func (m *Manipulator) Permissions() []string {
	return slices.Clone(model.AllPermissions)
}

// Page is the acl page of one object: the identities listed on each form and
// the forms themselves.
type Page struct {
	Users     []string
	Roles     []string
	UsersForm *Form
	RolesForm *Form
}

// Load reads the entries of obj once and builds both forms from them. Users
// are those with an entry plus extra; roles are the known roles plus those
// with an entry. Both lists are sorted.
func (m *Manipulator) Load(ctx context.Context, obj *model.Object, extra ...string) (*Page, error) {
	entries, err := m.store.Entries(ctx, obj.Class, obj.ID)
	if err != nil {
		return nil, fmt.Errorf("load acl of %s %q: %w", obj.Class, obj.ID, err)
	}
	var known []string
	if m.roles != nil {
		known = m.roles.Roles()
	}
	permissions := m.Permissions()
	page := &Page{
		Users: identities(entries, model.IdentityUser, extra),
		Roles: identities(entries, model.IdentityRole, known),
	}
	page.UsersForm = NewForm(UsersFormName, model.IdentityUser, page.Users, permissions, entries)
	page.RolesForm = NewForm(RolesFormName, model.IdentityRole, page.Roles, permissions, entries)
	return page, nil
}

// UpdateUsers persists the bound users matrix.
func (m *Manipulator) UpdateUsers(ctx context.Context, obj *model.Object, f *Form) error {
	return m.update(ctx, obj, model.IdentityUser, f)
}

// UpdateRoles persists the bound roles matrix.
func (m *Manipulator) UpdateRoles(ctx context.Context, obj *model.Object, f *Form) error {
	return m.update(ctx, obj, model.IdentityRole, f)
}

func (m *Manipulator) update(ctx context.Context, obj *model.Object, kind string, f *Form) error {
	if !f.IsValid() {
		return model.NewBadRequestError("acl form is not valid")
	}
	if err := m.store.Replace(ctx, obj.Class, obj.ID, kind, f.Entries()); err != nil {
		return fmt.Errorf("update acl %s entries of %s %q: %w", kind, obj.Class, obj.ID, err)
	}
	return nil
}

func identities(entries []model.ACLEntry, kind string, extra []string) []string {
	var out []string
	for _, e := range entries {
		if e.Kind == kind {
			out = append(out, e.Identity)
		}
	}
	for _, id := range extra {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
