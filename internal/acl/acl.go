// Package acl stores per-object access control entries and edits them through
// the users and roles forms of the acl page.
package acl

import (
	"context"

	"github.com/pitabwire/crudadmin/model"
)

// Store persists ACL entries.
type Store interface {
	// Entries returns every entry on one object.
	Entries(ctx context.Context, class, objectID string) ([]model.ACLEntry, error)

	// Replace swaps all entries of one identity kind on an object for
	// entries.
	Replace(ctx context.Context, class, objectID, kind string, entries []model.ACLEntry) error
}

var actionPermissions = map[string]string{
	"list":                    model.PermissionView,
	"show":                    model.PermissionView,
	"history":                 model.PermissionView,
	"historyViewRevision":     model.PermissionView,
	"historyCompareRevisions": model.PermissionView,
	"export":                  model.PermissionView,
	"create":                  model.PermissionCreate,
	"edit":                    model.PermissionEdit,
	"delete":                  model.PermissionDelete,
	"batchDelete":             model.PermissionDelete,
	"acl":                     model.PermissionMaster,
}

// PermissionFor maps an admin action to the ACL permission it requires.
// Unknown actions require OPERATOR.
func PermissionFor(action string) string {
	if p, ok := actionPermissions[action]; ok {
		return p
	}
	return model.PermissionOperator
}

// Grants reports whether any entry held by the user, directly or through one
// of their roles, grants permission.
func Grants(entries []model.ACLEntry, rctx *model.RequestContext, permission string) bool {
	for _, e := range entries {
		if rctx.Identifies(e.Kind, e.Identity) && e.Grants(permission) {
			return true
		}
	}
	return false
}
