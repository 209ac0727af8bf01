package model

// ACL permission names, from least to most privileged.
const (
	PermissionView     = "VIEW"
	PermissionEdit     = "EDIT"
	PermissionCreate   = "CREATE"
	PermissionDelete   = "DELETE"
	PermissionUndelete = "UNDELETE"
	PermissionOperator = "OPERATOR"
	PermissionMaster   = "MASTER"
	PermissionOwner    = "OWNER"
)

// AllPermissions lists the ACL permissions editable from the admin.
var AllPermissions = []string{
	PermissionView, PermissionEdit, PermissionCreate, PermissionDelete,
	PermissionUndelete, PermissionOperator, PermissionMaster, PermissionOwner,
}

// Security identity kinds.
const (
	IdentityUser = "user"
	IdentityRole = "role"
)

// ACLEntry grants permissions on one object to one security identity.
type ACLEntry struct {
	Class       string   `json:"class"`
	ObjectID    string   `json:"object_id"`
	Kind        string   `json:"kind"`
	Identity    string   `json:"identity"`
	Permissions []string `json:"permissions"`
}

// Grants reports whether the entry includes the permission. MASTER and OWNER
// imply every permission below them.
func (e ACLEntry) Grants(permission string) bool {
	for _, p := range e.Permissions {
		if p == permission || p == PermissionOwner {
			return true
		}
		if p == PermissionMaster && permission != PermissionOwner {
			return true
		}
	}
	return false
}
