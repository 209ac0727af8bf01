package capability

import (
	"context"
	"fmt"

	"github.com/pitabwire/crudadmin/internal/acl"
	"github.com/pitabwire/crudadmin/model"
)

// SecurityHandler decides whether a user may run an admin action. Roles grant
// "<admin code>:<action>" capabilities; on ACL-enabled admins an object entry
// can grant the action as well.
type SecurityHandler struct {
	resolver model.CapabilityResolver
	acl      acl.Store
}

// NewSecurityHandler creates a handler. aclStore may be nil.
func NewSecurityHandler(resolver model.CapabilityResolver, aclStore acl.Store) *SecurityHandler {
	return &SecurityHandler{resolver: resolver, acl: aclStore}
}

// IsGranted reports whether rctx may run action on the admin, optionally for
// obj.
func (h *SecurityHandler) IsGranted(ctx context.Context, rctx *model.RequestContext, adminCode, action string, obj *model.Object, aclEnabled bool) (bool, error) {
	if rctx == nil {
		return false, nil
	}
	caps, err := h.resolver.Resolve(rctx)
	if err != nil {
		return false, fmt.Errorf("resolve capabilities: %w", err)
	}
	if caps.Has(model.Capability(adminCode, action)) {
		return true, nil
	}
	if !aclEnabled || obj == nil || obj.IsNew() || h.acl == nil {
		return false, nil
	}
	entries, err := h.acl.Entries(ctx, obj.Class, obj.ID)
	if err != nil {
		return false, fmt.Errorf("read acl: %w", err)
	}
	return acl.Grants(entries, rctx, acl.PermissionFor(action)), nil
}
