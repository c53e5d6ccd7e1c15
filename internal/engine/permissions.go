package engine

import (
	"fmt"

	"contentforge/internal/metadata"
	"contentforge/internal/rbac"
)

// CheckPermission verifies that the caller's role grants perm.
func CheckPermission(svc *rbac.Service, user *metadata.UserContext, model, perm string) error {
	if user == nil {
		return UnauthorizedError("Authentication required")
	}
	if !svc.HasPermission(user.RoleName(), perm) {
		return ForbiddenError(fmt.Sprintf("Permission denied for %s on %s", perm, model))
	}
	return nil
}

// CheckRouteAccess verifies that the caller's role may open a UI route.
func CheckRouteAccess(svc *rbac.Service, user *metadata.UserContext, route string) error {
	if user == nil {
		return UnauthorizedError("Authentication required")
	}
	if !svc.HasRouteAccess(user.RoleName(), route) {
		return ForbiddenError(fmt.Sprintf("Access denied to %s", route))
	}
	return nil
}
