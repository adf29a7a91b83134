package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/auth"
)

type createDepartmentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

func (a *API) Departments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermissionManageDepartments) {
			return
		}
		var req createDepartmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		dep, err := a.admin.CreateDepartment(r.Context(), req.Name, req.Description)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "directory.department.create", "department", dep.ID, map[string]string{
			"name": dep.Name,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/departments/%s", dep.ID))
		writeJSON(w, http.StatusCreated, dep)
	case http.MethodGet:
		// Any authenticated caller may browse the department list.
		if _, ok := auth.IdentityFromContext(r.Context()); !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="opsdesk"`)
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		deps, err := a.admin.ListDepartments(r.Context())
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"departments": deps})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) Roles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermissionManageRoles) {
		return
	}
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.admin.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "directory.role.create", "role", role.ID, map[string]string{
		"name": role.Name,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

// RoleSubresource routes /v1/roles/{id}/permissions.
func (a *API) RoleSubresource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "permissions" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, auth.PermissionManageRoles) {
		return
	}
	var req updateRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	roleID := parts[0]
	if err := a.admin.SetRolePermissions(r.Context(), roleID, req.Permissions); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "directory.role.permissions.update", "role", roleID, map[string]string{
		"permissions": strings.Join(req.Permissions, ","),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"role_id":     roleID,
		"permissions": req.Permissions,
	})
}

// UserSubresource routes /v1/users/{id}/assignments and
// /v1/users/{id}/assignments/{roleID}.
func (a *API) UserSubresource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] != "assignments" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]

	switch {
	case len(parts) == 2 && r.Method == http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermissionManageUsers) {
			return
		}
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		assignment, err := a.admin.AssignRole(r.Context(), userID, req.RoleID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "directory.role.assign", "user", userID, map[string]string{
			"role_id": assignment.RoleID,
		})
		writeJSON(w, http.StatusCreated, assignment)
	case len(parts) == 3 && parts[2] != "" && r.Method == http.MethodDelete:
		if !a.ensurePermission(w, r, auth.PermissionManageUsers) {
			return
		}
		roleID := parts[2]
		if err := a.admin.RemoveAssignment(r.Context(), userID, roleID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "directory.role.unassign", "user", userID, map[string]string{
			"role_id": roleID,
		})
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 2:
		methodNotAllowed(w, r, http.MethodPost)
	case len(parts) == 3:
		methodNotAllowed(w, r, http.MethodDelete)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) audit(ctx context.Context, event, resourceType, resourceID string, metadata map[string]string) {
	fields := map[string]any{
		"resource_type": resourceType,
		"resource_id":   resourceID,
	}
	for k, v := range metadata {
		fields[k] = v
	}
	_ = audit.LogEvent(ctx, event, fields)
}
