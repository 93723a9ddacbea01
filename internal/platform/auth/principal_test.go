package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestParseAdminFlag(t *testing.T) {
	truthy := true
	falsy := false
	tests := []struct {
		name string
		in   any
		want bool
	}{
		{"bool true", true, true},
		{"bool false", false, false},
		{"bool pointer true", &truthy, true},
		{"bool pointer false", &falsy, false},
		{"nil bool pointer", (*bool)(nil), false},
		{"string true", "true", true},
		{"string TRUE", "TRUE", true},
		{"string t", "t", true},
		{"string 1", "1", true},
		{"string yes", "yes", true},
		{"string padded", "  true ", true},
		{"string false", "false", false},
		{"string f", "f", false},
		{"string 0", "0", false},
		{"empty string", "", false},
		{"bytes true", []byte("true"), true},
		{"bytes false", []byte("f"), false},
		{"nil", nil, false},
		{"unrelated type", 42, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseAdminFlag(tt.in); got != tt.want {
				t.Errorf("ParseAdminFlag(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestScopeForRole(t *testing.T) {
	clinician := ScopeForRole(RoleClinician)
	if clinician.Schedule != ScopeSelf {
		t.Errorf("clinician schedule scope = %s, want %s", clinician.Schedule, ScopeSelf)
	}
	if clinician.Patient != ScopeAssigned {
		t.Errorf("clinician patient scope = %s, want %s", clinician.Patient, ScopeAssigned)
	}

	for _, role := range []string{RoleAdmin, RoleNurse, RoleFrontDesk, RoleBilling, "unknown"} {
		s := ScopeForRole(role)
		if s.Schedule != ScopeClinic || s.Patient != ScopeClinic {
			t.Errorf("role %q scope = %+v, want clinic-wide", role, s)
		}
	}
}

func TestPrincipalPermissions(t *testing.T) {
	p := NewPrincipal(uuid.New(), "doc@clinic.test", "Dr One", nil, "Physician", false,
		[]string{PrivPatientView, PrivRecordView})

	if !p.HasPermission(PrivPatientView) {
		t.Error("expected granted privilege to be present")
	}
	if p.HasPermission(PrivPatientDelete) {
		t.Error("ungranted privilege must be denied")
	}
	if p.Role != RoleClinician {
		t.Errorf("Role = %q, want %q", p.Role, RoleClinician)
	}
	if p.RoleName != "Physician" {
		t.Errorf("RoleName = %q, want original display name", p.RoleName)
	}
	if got := len(p.Permissions()); got != 2 {
		t.Errorf("Permissions() length = %d, want 2", got)
	}
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	p := NewPrincipal(uuid.New(), "a@b.test", "A B", nil, "Nurse", false, nil)
	ctx := WithPrincipal(context.Background(), p)
	if got := PrincipalFromContext(ctx); got != p {
		t.Fatal("principal did not round-trip through context")
	}
	if got := PrincipalFromContext(context.Background()); got != nil {
		t.Fatal("empty context must yield nil principal")
	}
}
