package authstate

import (
	"strings"

	"github.com/planboo/photoreview/internal/directus"
)

// AdminPolicy decides whether a session may use the photo review screen.
//
// The policies endpoint is authoritative when it answered. Without it the
// role decides: an expanded role is admin when it carries admin_access or its
// id is one of the privileged roles. A role returned as a bare identifier is
// never admin.
type AdminPolicy struct {
	privileged map[string]struct{}
}

func NewAdminPolicy(privilegedRoleIDs ...string) AdminPolicy {
	p := AdminPolicy{privileged: make(map[string]struct{}, len(privilegedRoleIDs))}
	for _, id := range privilegedRoleIDs {
		if id = strings.TrimSpace(id); id != "" {
			p.privileged[id] = struct{}{}
		}
	}
	return p
}

// IsAdmin derives admin access. policies is nil when the endpoint failed or
// is unavailable.
func (p AdminPolicy) IsAdmin(user *directus.User, policies *directus.PoliciesGlobals) bool {
	if policies != nil {
		return policies.AdminAccess
	}
	if user == nil {
		return false
	}
	return p.RoleIsAdmin(user.Role)
}

func (p AdminPolicy) RoleIsAdmin(role directus.RoleRef) bool {
	r, ok := role.(directus.IdentifiedRole)
	if !ok {
		return false
	}
	if r.AdminAccess != nil && *r.AdminAccess {
		return true
	}
	_, privileged := p.privileged[r.ID]
	return privileged
}
