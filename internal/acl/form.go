package acl

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/pitabwire/crudadmin/model"
)

// Form names on the acl page.
const (
	UsersFormName = "acl_users_form"
	RolesFormName = "acl_roles_form"
)

// submitMarker is posted with every acl form so that a submission clearing
// all permissions is still recognised.
const submitMarker = "_submit"

// Form is the permission matrix for one identity kind: a row per identity, a
// column per permission. Submitted values are "<name>[<identity>][]=<PERM>".
type Form struct {
	name        string
	kind        string
	identities  []string
	permissions []string
	granted     map[string]map[string]bool
	submitted   bool
	errors      []string
}

// NewForm builds a form over identities, pre-filled from the entries of kind.
func NewForm(name, kind string, identities, permissions []string, entries []model.ACLEntry) *Form {
	f := &Form{
		name:        name,
		kind:        kind,
		identities:  identities,
		permissions: permissions,
		granted:     make(map[string]map[string]bool, len(identities)),
	}
	for _, id := range identities {
		f.granted[id] = make(map[string]bool)
	}
	for _, e := range entries {
		row, ok := f.granted[e.Identity]
		if e.Kind != kind || !ok {
			continue
		}
		for _, p := range e.Permissions {
			row[p] = true
		}
	}
	return f
}

// Name returns the form name.
func (f *Form) Name() string { return f.name }

// SubmittedIn reports whether values carry this form.
func (f *Form) SubmittedIn(values url.Values) bool {
	for k := range values {
		if k == f.name || strings.HasPrefix(k, f.name+"[") {
			return true
		}
	}
	return false
}

// HandleRequest binds the submitted matrix, replacing the pre-filled one.
func (f *Form) HandleRequest(values url.Values) {
	if !f.SubmittedIn(values) {
		return
	}
	f.submitted = true
	for id := range f.granted {
		f.granted[id] = make(map[string]bool)
	}

	for k, vs := range values {
		identity, ok := f.identityFromKey(k)
		if !ok || identity == submitMarker {
			continue
		}
		row, known := f.granted[identity]
		if !known {
			f.errors = append(f.errors, fmt.Sprintf("unknown identity %q", identity))
			continue
		}
		for _, p := range vs {
			if !slices.Contains(f.permissions, p) {
				f.errors = append(f.errors, fmt.Sprintf("unknown permission %q for %q", p, identity))
				continue
			}
			row[p] = true
		}
	}
	slices.Sort(f.errors)
}

func (f *Form) identityFromKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, f.name+"[")
	if !ok {
		return "", false
	}
	identity, tail, ok := strings.Cut(rest, "]")
	if !ok || identity == "" {
		return "", false
	}
	if tail != "" && tail != "[]" {
		return "", false
	}
	return identity, true
}

// IsSubmitted reports whether HandleRequest found this form in the payload.
func (f *Form) IsSubmitted() bool { return f.submitted }

// IsValid reports whether the bound matrix names only known identities and
// permissions.
func (f *Form) IsValid() bool { return f.submitted && len(f.errors) == 0 }

// Errors returns the binding errors.
func (f *Form) Errors() []string { return f.errors }

// Granted reports whether the matrix grants permission to identity.
func (f *Form) Granted(identity, permission string) bool {
	return f.granted[identity][permission]
}

// Entries converts the matrix to entries, omitting identities without any
// permission.
func (f *Form) Entries() []model.ACLEntry {
	var out []model.ACLEntry
	for _, id := range f.identities {
		var perms []string
		for _, p := range f.permissions {
			if f.granted[id][p] {
				perms = append(perms, p)
			}
		}
		if len(perms) > 0 {
			out = append(out, model.ACLEntry{Kind: f.kind, Identity: id, Permissions: perms})
		}
	}
	return out
}

// RowDescriptor is one identity row of the matrix.
type RowDescriptor struct {
	Identity string          `json:"identity"`
	Granted  map[string]bool `json:"granted"`
}

// FormDescriptor describes the matrix for the frontend.
type FormDescriptor struct {
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	Permissions []string        `json:"permissions"`
	Rows        []RowDescriptor `json:"rows"`
	Errors      []string        `json:"errors,omitempty"`
}

// Descriptor renders the form.
func (f *Form) Descriptor() FormDescriptor {
	d := FormDescriptor{
		Name:        f.name,
		Kind:        f.kind,
		Permissions: f.permissions,
		Rows:        make([]RowDescriptor, 0, len(f.identities)),
		Errors:      f.errors,
	}
	for _, id := range f.identities {
		row := make(map[string]bool, len(f.permissions))
		for _, p := range f.permissions {
			row[p] = f.granted[id][p]
		}
		d.Rows = append(d.Rows, RowDescriptor{Identity: id, Granted: row})
	}
	return d
}
