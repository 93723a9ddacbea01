package auth

import "strings"

// Canonical role names used by the permission system. Display role names
// ("Physician", "Nurse Practitioner") are mapped onto these before any
// comparison.
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
	RoleClinician  = "clinician"
	RoleResident   = "resident"
	RoleStudent    = "student"
	RoleNurse      = "nurse"
	RoleFrontDesk  = "front_desk"
	RoleBilling    = "billing"
	RoleAuditor    = "auditor"
	RoleCompliance = "compliance"
	RoleHIM        = "him"
)

// roleAliases maps lowercased display names onto canonical roles. Matching
// is case-insensitive and also catches common substrings (see CanonicalRole).
var roleAliases = map[string]string{
	"admin":               RoleAdmin,
	"administrator":       RoleAdmin,
	"superadmin":          RoleSuperAdmin,
	"super admin":         RoleSuperAdmin,
	"physician":           RoleClinician,
	"clinician":           RoleClinician,
	"doctor":              RoleClinician,
	"md":                  RoleClinician,
	"nurse practitioner":  RoleClinician,
	"np":                  RoleClinician,
	"physician assistant": RoleClinician,
	"pa":                  RoleClinician,
	"practitioner":        RoleClinician,
	"resident":            RoleResident,
	"student":             RoleStudent,
	"medical student":     RoleStudent,
	"nurse":               RoleNurse,
	"rn":                  RoleNurse,
	"ma":                  RoleNurse,
	"medical assistant":   RoleNurse,
	"front desk":          RoleFrontDesk,
	"front_desk":          RoleFrontDesk,
	"reception":           RoleFrontDesk,
	"receptionist":        RoleFrontDesk,
	"billing":             RoleBilling,
	"biller":              RoleBilling,
	"auditor":             RoleAuditor,
	"compliance":          RoleCompliance,
	"him":                 RoleHIM,
}

// CanonicalRole resolves a display role name to its canonical permission
// role: case is folded and the fixed alias table is consulted, so
// "Physician", "doctor", "MD", "Nurse Practitioner", "NP" and "PA" all
// resolve to "clinician". Unknown roles resolve to their lowercased form and
// will match nothing in the fallback privilege table: deny-by-default, not
// a silent promotion.
func CanonicalRole(roleName string) string {
	name := strings.ToLower(strings.TrimSpace(roleName))
	if name == "" {
		return ""
	}
	if canonical, ok := roleAliases[name]; ok {
		return canonical
	}
	// Compound display names like "Attending Physician" or "Resident MD".
	switch {
	case strings.Contains(name, "resident"):
		return RoleResident
	case strings.Contains(name, "student"):
		return RoleStudent
	case strings.Contains(name, "superadmin") || strings.Contains(name, "super admin"):
		return RoleSuperAdmin
	case strings.Contains(name, "admin"):
		return RoleAdmin
	case strings.Contains(name, "physician"), strings.Contains(name, "clinician"), strings.Contains(name, "practitioner"):
		return RoleClinician
	case strings.Contains(name, "nurse"):
		return RoleNurse
	case strings.Contains(name, "front"), strings.Contains(name, "reception"):
		return RoleFrontDesk
	case strings.Contains(name, "billing"):
		return RoleBilling
	case strings.Contains(name, "auditor"):
		return RoleAuditor
	case strings.Contains(name, "compliance"):
		return RoleCompliance
	}
	return name
}

// complianceTierRoles may read unredacted audit detail (ip, user agent,
// sanitized payload) across the read-side audit API.
var complianceTierRoles = map[string]struct{}{
	RoleAdmin:      {},
	RoleSuperAdmin: {},
	RoleCompliance: {},
	RoleHIM:        {},
}

// IsComplianceTier reports whether the principal may see unredacted audit
// metadata and events outside its own tenant.
func IsComplianceTier(p *Principal) bool {
	if p == nil {
		return false
	}
	if p.IsAdmin {
		return true
	}
	_, ok := complianceTierRoles[p.Role]
	return ok
}
