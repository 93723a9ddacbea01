package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carevault/carevault/internal/platform/db"
)

// ErrAccountNotFound is returned by AccountStore implementations when the
// token subject does not resolve to an account.
var ErrAccountNotFound = errors.New("account not found")

// Account is the persisted identity the resolver loads for a token subject.
// IsAdmin is already normalized to a strict bool by the store (ParseAdminFlag
// at the scan boundary).
type Account struct {
	ID        uuid.UUID
	Email     string
	FirstName string
	LastName  string
	Status    string // "active", "suspended", or "" for legacy rows
	RoleID    *uuid.UUID
	RoleName  string
	IsAdmin   bool
}

// Name returns the display name for audit and error payloads.
func (a *Account) Name() string {
	switch {
	case a.FirstName == "":
		return a.LastName
	case a.LastName == "":
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}

// AccountStore loads accounts for principal resolution.
type AccountStore interface {
	AccountByID(ctx context.Context, id uuid.UUID) (*Account, error)
}

// PrivilegeStore loads the permission set behind a role and answers
// individual privilege checks.
type PrivilegeStore interface {
	// RolePrivileges returns the privilege keys granted to a role. An empty
	// slice (no error) means the role has no grants configured.
	RolePrivileges(ctx context.Context, roleID uuid.UUID) ([]string, error)
}

// ResolverConfig wires the resolver middleware.
type ResolverConfig struct {
	Secret     []byte
	Accounts   AccountStore
	Privileges PrivilegeStore
	Logger     zerolog.Logger
}

// Authenticate returns middleware that resolves the bearer credential into an
// immutable per-request Principal.
//
// The credential is taken from the Authorization header, with a fallback to
// the "token" query parameter for embeds that cannot set headers. Every
// failure is a 401 with a minimal error body; the middleware never falls
// open. A failure to load the permission set degrades the principal to an
// empty permission set instead of failing the request; the role's normal
// scope and the account's admin flag are preserved verbatim on that path.
func Authenticate(cfg ResolverConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := ExtractToken(c)
			if err != nil {
				if errors.Is(err, ErrNoToken) {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "No token provided"})
				}
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid or expired token"})
			}

			claims, err := ParseToken(cfg.Secret, tokenStr)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid or expired token"})
			}

			subject, err := uuid.Parse(claims.Subject)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid token"})
			}

			ctx := c.Request().Context()
			if claims.TenantID != "" {
				// The account row lives in the tenant's schema, so the
				// tenant must be in context before the lookup runs. The
				// echo key feeds the tenant middleware further down the
				// chain.
				ctx = db.WithTenant(ctx, claims.TenantID)
				c.Set("jwt_tenant_id", claims.TenantID)
			}
			account, err := cfg.Accounts.AccountByID(ctx, subject)
			if err != nil {
				if !errors.Is(err, ErrAccountNotFound) {
					// Fail secure: an unreadable account is treated exactly
					// like a missing one.
					cfg.Logger.Error().Err(err).Str("subject", claims.Subject).Msg("account load failed")
				}
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid token"})
			}

			if account.Status != "" && account.Status != "active" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Account is suspended or inactive"})
			}

			principal := resolvePrincipal(ctx, cfg, account)

			c.SetRequest(c.Request().WithContext(WithPrincipal(ctx, principal)))
			return next(c)
		}
	}
}

// resolvePrincipal loads the permission set and builds the principal. On a
// store failure it degrades to an empty permission set rather than failing
// the request; the admin flag always survives the degraded path. A role
// with zero configured grants gets exactly that: absence of a grant is
// denial, so the static defaults apply only when the store could not be
// read at all.
func resolvePrincipal(ctx context.Context, cfg ResolverConfig, account *Account) *Principal {
	var perms []string
	degraded := false

	if account.RoleID != nil {
		loaded, err := cfg.Privileges.RolePrivileges(ctx, *account.RoleID)
		if err != nil {
			degraded = true
			cfg.Logger.Warn().Err(err).
				Str("account_id", account.ID.String()).
				Msg("authorization context load failed, degrading to minimal principal")
		} else {
			perms = loaded
		}
	}

	p := NewPrincipal(account.ID, account.Email, account.Name(), account.RoleID, account.RoleName, account.IsAdmin, perms)
	p.Degraded = degraded
	return p
}
