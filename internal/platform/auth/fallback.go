package auth

// Privilege keys known to the platform. Handlers guard routes with these
// exact strings; the seed migration inserts the same set.
const (
	PrivPatientView    = "patient:view"
	PrivPatientCreate  = "patient:create"
	PrivPatientUpdate  = "patient:update"
	PrivPatientDelete  = "patient:delete"
	PrivPatientExport  = "patient:export"
	PrivRecordView     = "record:view"
	PrivRecordCreate   = "record:create"
	PrivRecordUpdate   = "record:update"
	PrivScheduleView   = "schedule:view"
	PrivScheduleManage = "schedule:manage"
	PrivBillingView    = "billing:view"
	PrivBillingManage  = "billing:manage"
	PrivAuditView      = "audit:view"
	PrivAuditExport    = "audit:export"
	PrivAccountView    = "account:view"
	PrivAccountManage  = "account:manage"
	PrivRoleView       = "role:view"
	PrivRoleManage     = "role:manage"
)

// PrivilegeCatalog is the complete set of privilege keys the platform
// understands, in the order the seed migration inserts them.
var PrivilegeCatalog = []string{
	PrivPatientView,
	PrivPatientCreate,
	PrivPatientUpdate,
	PrivPatientDelete,
	PrivPatientExport,
	PrivRecordView,
	PrivRecordCreate,
	PrivRecordUpdate,
	PrivScheduleView,
	PrivScheduleManage,
	PrivBillingView,
	PrivBillingManage,
	PrivAuditView,
	PrivAuditExport,
	PrivAccountView,
	PrivAccountManage,
	PrivRoleView,
	PrivRoleManage,
}

// defaultPrivileges grants a baseline permission set per canonical role. It
// serves only degraded principals whose grants could not be loaded; a role
// with zero configured grants gets exactly zero privileges. Roles absent
// from this table get nothing; an unknown role is denied, never promoted.
var defaultPrivileges = map[string][]string{
	RoleClinician: {
		PrivPatientView, PrivPatientCreate, PrivPatientUpdate,
		PrivRecordView, PrivRecordCreate, PrivRecordUpdate,
		PrivScheduleView,
	},
	RoleResident: {
		PrivPatientView,
		PrivRecordView, PrivRecordCreate,
		PrivScheduleView,
	},
	RoleStudent: {
		PrivPatientView,
		PrivRecordView,
		PrivScheduleView,
	},
	RoleNurse: {
		PrivPatientView, PrivPatientUpdate,
		PrivRecordView, PrivRecordCreate,
		PrivScheduleView,
	},
	RoleFrontDesk: {
		PrivPatientView, PrivPatientCreate,
		PrivScheduleView, PrivScheduleManage,
	},
	RoleBilling: {
		PrivPatientView,
		PrivBillingView, PrivBillingManage,
	},
	RoleAuditor: {
		PrivAuditView,
	},
	RoleCompliance: {
		PrivPatientView,
		PrivAuditView, PrivAuditExport,
	},
	RoleHIM: {
		PrivPatientView, PrivPatientExport,
		PrivRecordView,
		PrivAuditView, PrivAuditExport,
	},
}

// DefaultPrivileges returns a copy of the baseline privilege set for a
// canonical role. Unknown roles get an empty set.
func DefaultPrivileges(canonical string) []string {
	base, ok := defaultPrivileges[canonical]
	if !ok {
		return nil
	}
	out := make([]string, len(base))
	copy(out, base)
	return out
}
