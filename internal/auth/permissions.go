package auth

// Permission catalog. Keys follow the resource.action convention.
const (
	PermissionManageDepartments = "directory.department.manage"
	PermissionManageRoles       = "directory.role.manage"
	PermissionManageUsers       = "directory.user.manage"
)

// BuiltinPermissions are ensured at startup.
var BuiltinPermissions = []Permission{
	{Key: PermissionManageDepartments, Description: "Create and update departments"},
	{Key: PermissionManageRoles, Description: "Create roles and grant permissions"},
	{Key: PermissionManageUsers, Description: "Manage user accounts and role assignments"},
}

// Builtin role names. RoleUser is the baseline assigned at registration when
// no roles are requested.
const (
	RoleUser    = "User"
	RoleManager = "Manager"
	RoleAdmin   = "Admin"
)

// BuiltinRoles are ensured at startup.
var BuiltinRoles = []Role{
	{Name: RoleUser, Description: "Baseline staff account"},
	{Name: RoleManager, Description: "Department management"},
	{Name: RoleAdmin, Description: "Directory administration"},
}
