package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type captureDenials struct {
	denials []Denial
	err     error
}

func (c *captureDenials) RecordDenial(_ context.Context, d Denial) error {
	c.denials = append(c.denials, d)
	return c.err
}

func runGuard(t *testing.T, mw echo.MiddlewareFunc, p *Principal) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	if p != nil {
		req = req.WithContext(WithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

func testPrincipal(roleName string, isAdmin bool, perms ...string) *Principal {
	return NewPrincipal(uuid.New(), "u@c.test", "U", nil, roleName, isAdmin, perms)
}

func TestRequirePrivilege_Granted(t *testing.T) {
	sink := &captureDenials{}
	a := NewAuthorizer(sink, zerolog.Nop())
	rec := runGuard(t, a.RequirePrivilege(PrivPatientView),
		testPrincipal("Physician", false, PrivPatientView))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(sink.denials) != 0 {
		t.Errorf("granted request produced denial audit: %v", sink.denials)
	}
}

func TestRequirePrivilege_Denied(t *testing.T) {
	sink := &captureDenials{}
	a := NewAuthorizer(sink, zerolog.Nop())
	rec := runGuard(t, a.RequirePrivilege(PrivPatientDelete),
		testPrincipal("Physician", false, PrivPatientView))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if len(sink.denials) != 1 {
		t.Fatalf("denials recorded = %d, want 1", len(sink.denials))
	}
	if got := sink.denials[0].Action; got != PrivPatientDelete+".denied" {
		t.Errorf("denial action = %q, want %q", got, PrivPatientDelete+".denied")
	}
}

func TestRequirePrivilege_NoPrincipal(t *testing.T) {
	a := NewAuthorizer(&captureDenials{}, zerolog.Nop())
	rec := runGuard(t, a.RequirePrivilege(PrivPatientView), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequirePrivilege_AdminBypass(t *testing.T) {
	sink := &captureDenials{}
	a := NewAuthorizer(sink, zerolog.Nop())
	rec := runGuard(t, a.RequirePrivilege(PrivPatientDelete),
		testPrincipal("Nurse", true))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: admin flag bypasses privilege checks", rec.Code)
	}
}

func TestRequirePrivilege_SuperAdminRoleBypass(t *testing.T) {
	sink := &captureDenials{}
	a := NewAuthorizer(sink, zerolog.Nop())
	// Legacy super-admin accounts predate the admin flag and carry only
	// the role name.
	rec := runGuard(t, a.RequirePrivilege(PrivPatientView),
		testPrincipal("SuperAdmin", false))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: super-admin role bypasses privilege checks without the flag", rec.Code)
	}
	if len(sink.denials) != 0 {
		t.Errorf("super-admin bypass produced denial audit: %v", sink.denials)
	}
}

func TestRequirePrivilege_DegradedUsesRoleDefaults(t *testing.T) {
	sink := &captureDenials{}
	a := NewAuthorizer(sink, zerolog.Nop())

	// Degraded clinician keeps baseline access but nothing beyond it.
	p := testPrincipal("Physician", false)
	p.Degraded = true

	if rec := runGuard(t, a.RequirePrivilege(PrivPatientView), p); rec.Code != http.StatusOK {
		t.Fatalf("degraded clinician denied baseline privilege: %d", rec.Code)
	}
	if rec := runGuard(t, a.RequirePrivilege(PrivRoleManage), p); rec.Code != http.StatusForbidden {
		t.Fatalf("degraded clinician granted beyond baseline: %d", rec.Code)
	}
}

func TestRequirePrivilege_AuditFailureStillDenies(t *testing.T) {
	sink := &captureDenials{err: context.DeadlineExceeded}
	a := NewAuthorizer(sink, zerolog.Nop())
	rec := runGuard(t, a.RequirePrivilege(PrivPatientDelete),
		testPrincipal("Nurse", false))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 even when the denial audit write fails", rec.Code)
	}
}

func TestRequireAnyPrivilege(t *testing.T) {
	sink := &captureDenials{}
	a := NewAuthorizer(sink, zerolog.Nop())
	mw := a.RequireAnyPrivilege(PrivAuditView, PrivAuditExport)

	if rec := runGuard(t, mw, testPrincipal("Auditor", false, PrivAuditView)); rec.Code != http.StatusOK {
		t.Fatalf("one of several privileges should admit: %d", rec.Code)
	}
	if rec := runGuard(t, mw, testPrincipal("Nurse", false, PrivPatientView)); rec.Code != http.StatusForbidden {
		t.Fatalf("no matching privilege should deny: %d", rec.Code)
	}
}

func TestRequireAllPrivileges(t *testing.T) {
	a := NewAuthorizer(&captureDenials{}, zerolog.Nop())
	mw := a.RequireAllPrivileges(PrivPatientView, PrivPatientExport)

	full := testPrincipal("HIM", false, PrivPatientView, PrivPatientExport)
	if rec := runGuard(t, mw, full); rec.Code != http.StatusOK {
		t.Fatalf("complete privilege set should admit: %d", rec.Code)
	}
	partial := testPrincipal("Nurse", false, PrivPatientView)
	if rec := runGuard(t, mw, partial); rec.Code != http.StatusForbidden {
		t.Fatalf("partial privilege set should deny: %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	sink := &captureDenials{}
	a := NewAuthorizer(sink, zerolog.Nop())
	// Display names are accepted when declaring the guard.
	mw := a.RequireRole("Physician", RoleNurse)

	if rec := runGuard(t, mw, testPrincipal("Doctor", false)); rec.Code != http.StatusOK {
		t.Fatalf("alias of allowed role should admit: %d", rec.Code)
	}
	if rec := runGuard(t, mw, testPrincipal("Billing", false)); rec.Code != http.StatusForbidden {
		t.Fatalf("disallowed role should deny: %d", rec.Code)
	}
	if got := sink.denials[len(sink.denials)-1].Action; got != "role_access.denied" {
		t.Errorf("denial action = %q, want role_access.denied", got)
	}
	if rec := runGuard(t, mw, testPrincipal("Billing", true)); rec.Code != http.StatusOK {
		t.Fatalf("admin flag should bypass role guard: %d", rec.Code)
	}
	if rec := runGuard(t, mw, testPrincipal("SuperAdmin", false)); rec.Code != http.StatusOK {
		t.Fatalf("super-admin role should bypass role guard without the flag: %d", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	sink := &captureDenials{}
	a := NewAuthorizer(sink, zerolog.Nop())

	if rec := runGuard(t, a.RequireAdmin(), testPrincipal("Nurse", true)); rec.Code != http.StatusOK {
		t.Fatalf("admin flag should pass: %d", rec.Code)
	}
	if rec := runGuard(t, a.RequireAdmin(), testPrincipal("Admin", false)); rec.Code != http.StatusOK {
		t.Fatalf("admin role name without the flag should pass: %d", rec.Code)
	}
	if rec := runGuard(t, a.RequireAdmin(), testPrincipal("SuperAdmin", false)); rec.Code != http.StatusOK {
		t.Fatalf("super-admin role without the flag should pass: %d", rec.Code)
	}
	if rec := runGuard(t, a.RequireAdmin(), testPrincipal("Nurse", false)); rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin must not pass: %d", rec.Code)
	}
	if got := sink.denials[0].Action; got != "admin_access.denied" {
		t.Errorf("denial action = %q, want admin_access.denied", got)
	}
}

func TestRequireSuperAdmin(t *testing.T) {
	a := NewAuthorizer(&captureDenials{}, zerolog.Nop())
	if rec := runGuard(t, a.RequireSuperAdmin(), testPrincipal("SuperAdmin", false)); rec.Code != http.StatusOK {
		t.Fatalf("superadmin should pass: %d", rec.Code)
	}
	if rec := runGuard(t, a.RequireSuperAdmin(), testPrincipal("Admin", true)); rec.Code != http.StatusForbidden {
		t.Fatalf("plain admin must not pass a superadmin guard: %d", rec.Code)
	}
}

func TestFallbackPrivilegesAreInCatalog(t *testing.T) {
	catalog := make(map[string]struct{}, len(PrivilegeCatalog))
	for _, key := range PrivilegeCatalog {
		catalog[key] = struct{}{}
	}
	for role, privs := range defaultPrivileges {
		for _, p := range privs {
			if _, ok := catalog[p]; !ok {
				t.Errorf("default privilege %q for role %q is not in the catalog", p, role)
			}
		}
	}
}
