package access

// Builtin permission catalog. Ids are dotted resource.action keys; the PHI
// and emergency flags drive the controller's context gates.
const (
	PermDataReadInternal    = "data.read.internal"
	PermDataReadPHI         = "data.read.phi"
	PermDataWritePHI        = "data.write.phi"
	PermEmergencyDataAccess = "emergency.data.access"
	PermAdminSystemConfig   = "admin.system.config"
	PermAdminUsersManage    = "admin.users.manage"
	PermAdminRolesManage    = "admin.roles.manage"
	PermAuditLogView        = "audit.log.view"
)

var BuiltinPermissions = []Permission{
	{ID: PermDataReadInternal, Resource: "data", Action: "read", Description: "Read internal, non-PHI records"},
	{ID: PermDataReadPHI, Resource: "data", Action: "read", PHIAccess: true, Description: "Read protected health information"},
	{ID: PermDataWritePHI, Resource: "data", Action: "write", PHIAccess: true, Description: "Write protected health information"},
	{ID: PermEmergencyDataAccess, Resource: "data", Action: "read", PHIAccess: true, EmergencyAccess: true, Description: "Break-glass access to patient records"},
	{ID: PermAdminSystemConfig, Resource: "system", Action: "configure", Description: "Change system configuration"},
	{ID: PermAdminUsersManage, Resource: "users", Action: "manage", Description: "Create and deactivate users, assign roles and grants"},
	{ID: PermAdminRolesManage, Resource: "roles", Action: "manage", Description: "Create roles and set role permissions"},
	{ID: PermAuditLogView, Resource: "audit", Action: "view", Description: "Query the audit trail"},
}
