package auth

import (
	"context"
	"strings"

	"github.com/ehr/mortuary/internal/platform/apperr"
)

// Roles carried in token claims.
const (
	RoleNurse           = "nurse"
	RoleGuard           = "guard"
	RoleAmbulanceTech   = "ambulance_technician"
	RoleGuardSupervisor = "guard_supervisor"
	RoleAdmin           = "admin"
)

// Actor is the authenticated user on whose behalf an operation runs. The
// transport fills it from the caller's credential; domain code never reads
// tokens itself.
type Actor struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// HasRole reports whether the actor holds any of roles. Admin holds every role.
func (a Actor) HasRole(roles ...string) bool {
	for _, has := range a.Roles {
		if has == RoleAdmin {
			return true
		}
		for _, want := range roles {
			if has == want {
				return true
			}
		}
	}
	return false
}

// Require returns a FORBIDDEN error unless the actor is identified and holds
// one of roles.
func (a Actor) Require(roles ...string) error {
	if strings.TrimSpace(a.ID) == "" {
		return apperr.Validation("acting user is required")
	}
	if len(roles) > 0 && !a.HasRole(roles...) {
		return apperr.WithMetadata(apperr.CodeForbidden, "acting user lacks the required role",
			map[string]string{"required": strings.Join(roles, ",")})
	}
	return nil
}

// ActorFromContext builds the Actor placed in ctx by the auth middleware.
func ActorFromContext(ctx context.Context) Actor {
	return Actor{ID: UserIDFromContext(ctx), Roles: RolesFromContext(ctx)}
}
