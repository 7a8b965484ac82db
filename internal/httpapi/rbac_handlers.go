package httpapi

import (
	"net/http"
	"strings"

	"userhub.org/internal/audit"
	"userhub.org/internal/auth"
)

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Level       int    `json:"level"`
}

type setRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermUsersRead) {
			return
		}
		roles, err := a.resolver.ListRoles(r.Context())
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermSettingsManageRoles) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.resolver.CreateRole(r.Context(), req.Name, req.Description, req.Level)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role_created", map[string]any{"role": role.Name})
		writeJSON(w, http.StatusCreated, map[string]any{"role": role})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleRoleScoped dispatches /v1/roles/{name} and /v1/roles/{name}/permissions.
func (a *API) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/roles/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	roleName := parts[0]
	switch {
	case len(parts) == 1:
		a.deleteRole(w, r, roleName)
	case len(parts) == 2 && parts[1] == "permissions":
		a.rolePermissions(w, r, roleName)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request, roleName string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, auth.PermSettingsManageRoles) {
		return
	}
	if err := a.resolver.DeleteRole(r.Context(), roleName); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role_deleted", map[string]any{"role": roleName})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) rolePermissions(w http.ResponseWriter, r *http.Request, roleName string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermUsersRead) {
			return
		}
		perms, err := a.resolver.RolePermissions(r.Context(), roleName)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
	case http.MethodPut:
		if !a.ensurePermission(w, r, auth.PermSettingsManageRoles) {
			return
		}
		var req setRolePermissionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.resolver.SetRolePermissions(r.Context(), roleName, req.Permissions); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role_permissions_set", map[string]any{
			"role":  roleName,
			"count": len(req.Permissions),
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, auth.PermUsersRead) {
		return
	}
	perms, err := a.resolver.ListPermissions(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}
