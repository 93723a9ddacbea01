package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const principalKey contextKey = "principal"

// ScopeLevel constrains how widely a principal may read records of a kind.
type ScopeLevel string

const (
	ScopeClinic   ScopeLevel = "CLINIC"
	ScopeSelf     ScopeLevel = "SELF"
	ScopeAssigned ScopeLevel = "ASSIGNED"
)

// Scope holds the per-principal visibility limits derived from the role.
type Scope struct {
	Schedule ScopeLevel `json:"schedule_scope"`
	Patient  ScopeLevel `json:"patient_scope"`
}

// Principal is the resolved identity for one request: account identity, the
// effective role, the admin override, and the loaded permission set. It is
// built fresh from the data store on every request and must never be cached
// across requests or trusted from the client.
type Principal struct {
	ID       uuid.UUID
	Email    string
	Name     string
	RoleID   *uuid.UUID
	RoleName string // original display name, e.g. "Physician"
	Role     string // canonical name, e.g. "clinician"
	IsAdmin  bool
	Scope    Scope

	// Degraded marks a principal whose permission set could not be loaded
	// from the authorization store. The authorizer falls back to the static
	// role table for degraded principals instead of hard-denying.
	Degraded bool

	permissions map[string]struct{}
}

// NewPrincipal builds a principal with the given permission set.
func NewPrincipal(id uuid.UUID, email, name string, roleID *uuid.UUID, roleName string, isAdmin bool, perms []string) *Principal {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	canonical := CanonicalRole(roleName)
	return &Principal{
		ID:          id,
		Email:       email,
		Name:        name,
		RoleID:      roleID,
		RoleName:    roleName,
		Role:        canonical,
		IsAdmin:     isAdmin,
		Scope:       ScopeForRole(canonical),
		permissions: set,
	}
}

// HasPermission reports whether the principal was granted the named
// privilege. Absence of a grant is denial; the admin bypass is the
// authorizer's concern, not this method's.
func (p *Principal) HasPermission(name string) bool {
	_, ok := p.permissions[name]
	return ok
}

// Permissions returns a copy of the permission set keys.
func (p *Principal) Permissions() []string {
	out := make([]string, 0, len(p.permissions))
	for k := range p.permissions {
		out = append(out, k)
	}
	return out
}

// ScopeForRole returns the visibility scope for a canonical role.
// Clinicians see only their own schedule and assigned patients; every other
// role operates clinic-wide.
func ScopeForRole(canonical string) Scope {
	if canonical == RoleClinician {
		return Scope{Schedule: ScopeSelf, Patient: ScopeAssigned}
	}
	return Scope{Schedule: ScopeClinic, Patient: ScopeClinic}
}

// ParseAdminFlag normalizes the heterogeneous physical encodings of the
// is_admin column (boolean, "true"/"t"/"1" strings, legacy NULL) into a
// strict bool. It is called exactly once, at the row-scan boundary; nothing
// downstream re-parses the flag.
func ParseAdminFlag(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case *bool:
		return t != nil && *t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "t", "1", "yes":
			return true
		}
	case []byte:
		return ParseAdminFlag(string(t))
	}
	return false
}

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext retrieves the request principal, or nil when the
// request was not authenticated.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}
