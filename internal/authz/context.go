package authz

import (
	"context"
	"net/http"

	"github.com/stanstork/monev-api/internal/models"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller. Handlers pass it on explicitly as the actor
// of whatever they record.
type Identity struct {
	ActorID string
	Email   string
	Name    string
	Roles   []models.UserRole
}

func (i Identity) Actor() models.ActorRef {
	return models.ActorRef{ID: i.ActorID, Email: i.Email, Name: i.Name}
}

// WithIdentity stores the caller on the context with normalized roles.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	id.Roles = models.EnsureDefaultRole(models.NormalizeRoles(id.Roles))
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok || id.ActorID == "" {
		return Identity{}, false
	}
	return id, true
}

func IdentityFromRequest(r *http.Request) (Identity, bool) {
	return IdentityFromContext(r.Context())
}

func RolesFromRequest(r *http.Request) ([]models.UserRole, bool) {
	id, ok := IdentityFromRequest(r)
	if !ok || !models.IsValidRoleList(id.Roles) {
		return nil, false
	}
	return id.Roles, true
}

// Require wraps next so only identities holding at least the required role tier reach it.
// A request with no identity is 401, one below the tier is 403.
func Require(required models.UserRole, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromRequest(r); !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		roles, ok := RolesFromRequest(r)
		if !ok || !models.HasAtLeast(roles, required) {
			http.Error(w, "insufficient permissions", http.StatusForbidden)
			return
		}
		next(w, r)
	})
}

func AdminOnly(next http.HandlerFunc) http.Handler {
	return Require(models.RoleAdmin, next)
}
