package auth

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Denial describes an authorization refusal for the audit trail.
type Denial struct {
	Action    string // e.g. "patient:view.denied", "role_access.denied"
	Principal *Principal
	Method    string
	Path      string
	IP        string
	UserAgent string
	Detail    map[string]any
}

// DenialRecorder persists denial events. The write happens synchronously,
// before the 403 is sent: a refused access that left no trace is a worse
// failure than a slow refusal.
type DenialRecorder interface {
	RecordDenial(ctx context.Context, d Denial) error
}

// Authorizer guards routes with privilege and role checks. Checks run
// against the request principal placed in context by Authenticate; a missing
// principal is a 401, a failed check is a 403 with a denial audit event.
type Authorizer struct {
	denials DenialRecorder
	log     zerolog.Logger
}

// NewAuthorizer builds an authorizer. denials may be nil in tests; denial
// events are then only logged.
func NewAuthorizer(denials DenialRecorder, log zerolog.Logger) *Authorizer {
	return &Authorizer{denials: denials, log: log}
}

// adminBypass reports whether the principal is exempt from privilege and
// role checks. An admin or super-admin role counts even when the stored
// admin flag is stale; legacy accounts predating the flag carry only the
// role name.
func adminBypass(p *Principal) bool {
	return p.IsAdmin || p.Role == RoleAdmin || p.Role == RoleSuperAdmin
}

// granted reports whether the principal holds the privilege. Admins bypass
// the check entirely. Degraded principals are checked against the static
// default table for their role, so a transient authorization-store outage
// narrows access to the role baseline instead of locking everyone out.
func granted(p *Principal, privilege string) bool {
	if adminBypass(p) {
		return true
	}
	if p.Degraded {
		for _, dp := range DefaultPrivileges(p.Role) {
			if dp == privilege {
				return true
			}
		}
		return false
	}
	return p.HasPermission(privilege)
}

// RequirePrivilege admits the request only when the principal holds the
// named privilege (or is an admin).
func (a *Authorizer) RequirePrivilege(privilege string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "No token provided"})
			}
			if granted(p, privilege) {
				return next(c)
			}
			a.deny(c, p, privilege+".denied", map[string]any{"required": privilege})
			return c.JSON(http.StatusForbidden, echo.Map{
				"error":    "Insufficient permissions",
				"required": privilege,
				"current":  p.Role,
			})
		}
	}
}

// RequireAnyPrivilege admits the request when the principal holds at least
// one of the named privileges.
func (a *Authorizer) RequireAnyPrivilege(privileges ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "No token provided"})
			}
			for _, priv := range privileges {
				if granted(p, priv) {
					return next(c)
				}
			}
			a.deny(c, p, "access.denied", map[string]any{"required_any": privileges})
			return c.JSON(http.StatusForbidden, echo.Map{
				"error":    "Insufficient permissions",
				"required": privileges,
				"current":  p.Role,
			})
		}
	}
}

// RequireAllPrivileges admits the request only when the principal holds
// every named privilege.
func (a *Authorizer) RequireAllPrivileges(privileges ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "No token provided"})
			}
			for _, priv := range privileges {
				if !granted(p, priv) {
					a.deny(c, p, priv+".denied", map[string]any{"required_all": privileges, "missing": priv})
					return c.JSON(http.StatusForbidden, echo.Map{
						"error":    "Insufficient permissions",
						"required": privileges,
						"current":  p.Role,
					})
				}
			}
			return next(c)
		}
	}
}

// RequireRole admits the request when the principal's canonical role is one
// of the allowed roles. Admins always pass.
func (a *Authorizer) RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[CanonicalRole(r)] = struct{}{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "No token provided"})
			}
			if adminBypass(p) {
				return next(c)
			}
			if _, ok := allowed[p.Role]; ok {
				return next(c)
			}
			a.deny(c, p, "role_access.denied", map[string]any{"required": roles})
			return c.JSON(http.StatusForbidden, echo.Map{
				"error":    "Insufficient permissions",
				"required": roles,
				"current":  p.Role,
			})
		}
	}
}

// RequireAdmin admits only admin principals, whether marked by the admin
// flag or by role name.
func (a *Authorizer) RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "No token provided"})
			}
			if adminBypass(p) {
				return next(c)
			}
			a.deny(c, p, "admin_access.denied", nil)
			return c.JSON(http.StatusForbidden, echo.Map{
				"error":    "Insufficient permissions",
				"required": "admin",
				"current":  p.Role,
			})
		}
	}
}

// RequireSuperAdmin admits only superadmin principals.
func (a *Authorizer) RequireSuperAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "No token provided"})
			}
			if p.Role == RoleSuperAdmin {
				return next(c)
			}
			a.deny(c, p, "admin_access.denied", map[string]any{"required": RoleSuperAdmin})
			return c.JSON(http.StatusForbidden, echo.Map{
				"error":    "Insufficient permissions",
				"required": RoleSuperAdmin,
				"current":  p.Role,
			})
		}
	}
}

// deny records the denial synchronously before the 403 is written. A failed
// audit write does not turn the denial into a 500; it is logged and the
// refusal stands.
func (a *Authorizer) deny(c echo.Context, p *Principal, action string, detail map[string]any) {
	d := Denial{
		Action:    action,
		Principal: p,
		Method:    c.Request().Method,
		Path:      c.Path(),
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
		Detail:    detail,
	}
	if a.denials == nil {
		a.log.Warn().Str("action", action).Str("account_id", p.ID.String()).Msg("access denied (no denial recorder wired)")
		return
	}
	if err := a.denials.RecordDenial(c.Request().Context(), d); err != nil {
		a.log.Error().Err(err).Str("action", action).Str("account_id", p.ID.String()).Msg("denial audit write failed")
	}
}
