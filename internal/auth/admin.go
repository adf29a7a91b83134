package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"opsdesk.org/internal/ids"
)

// Admin exposes directory administration: departments, roles, permission
// grants, and role assignments. Handlers gate every call behind a
// permission check via Service.Require.
type Admin struct {
	dir Directory
}

// NewAdmin constructs the administration service.
func NewAdmin(dir Directory) (*Admin, error) {
	if dir == nil {
		return nil, errors.New("auth: directory is required")
	}
	return &Admin{dir: dir}, nil
}

// CreateDepartment creates an organizational unit.
func (a *Admin) CreateDepartment(ctx context.Context, name, description string) (Department, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Department{}, fmt.Errorf("%w: department name is required", ErrInvalidInput)
	}
	d := &Department{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
	}
	if err := a.dir.Departments(ctx).Create(ctx, d); err != nil {
		return Department{}, storeErr("create department", err)
	}
	return *d, nil
}

// ListDepartments lists all organizational units.
func (a *Admin) ListDepartments(ctx context.Context) ([]Department, error) {
	deps, err := a.dir.Departments(ctx).List(ctx)
	if err != nil {
		return nil, storeErr("list departments", err)
	}
	return deps, nil
}

// CreateRole creates a role.
func (a *Admin) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role := &Role{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
	}
	if err := a.dir.Roles(ctx).Create(ctx, role); err != nil {
		return Role{}, storeErr("create role", err)
	}
	return *role, nil
}

// SetRolePermissions replaces the role's granted permission set.
func (a *Admin) SetRolePermissions(ctx context.Context, roleID string, keys []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if err := a.dir.Permissions(ctx).SetForRole(ctx, roleID, dedupeStrings(keys)); err != nil {
		return storeErr("set role permissions", err)
	}
	return nil
}

// AssignRole gives a user a role. The assignment is unique per pair.
func (a *Admin) AssignRole(ctx context.Context, userID, roleID string) (RoleAssignment, error) {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return RoleAssignment{}, fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	assignment := RoleAssignment{UserID: userID, RoleID: roleID}
	if err := a.dir.Roles(ctx).Assign(ctx, assignment); err != nil {
		return RoleAssignment{}, storeErr("assign role", err)
	}
	return assignment, nil
}

// RemoveAssignment removes a user's role.
func (a *Admin) RemoveAssignment(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	if err := a.dir.Roles(ctx).Unassign(ctx, userID, roleID); err != nil {
		return storeErr("remove assignment", err)
	}
	return nil
}
