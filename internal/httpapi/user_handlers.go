package httpapi

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"userhub.org/internal/auth"
)

type assignRoleRequest struct {
	Role      string     `json:"role"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// handleUserScoped dispatches /v1/users/... paths. "me" routes act on the
// caller's own account; id-scoped routes are admin surface gated by
// permissions.
func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if parts[0] == "me" {
		a.handleSelfScoped(w, r, parts[1:])
		return
	}

	userID := parts[0]
	switch {
	case len(parts) == 1:
		a.getUser(w, r, userID)
	case len(parts) == 2 && parts[1] == "roles":
		a.userRoles(w, r, userID)
	case len(parts) == 3 && parts[1] == "roles":
		a.removeUserRole(w, r, userID, parts[2])
	case len(parts) == 2 && parts[1] == "permissions":
		a.userPermissions(w, r, userID)
	case len(parts) == 2 && parts[1] == "activate":
		a.setUserActive(w, r, userID, true)
	case len(parts) == 2 && parts[1] == "deactivate":
		a.setUserActive(w, r, userID, false)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleSelfScoped(w http.ResponseWriter, r *http.Request, parts []string) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	switch {
	case len(parts) == 0:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		user, err := a.accounts.Get(r.Context(), identity.UserID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		roles, err := a.resolver.Roles(r.Context(), identity.UserID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user":  user,
			"roles": roles,
		})
	case len(parts) == 1 && parts[0] == "preferences":
		a.selfPreferences(w, r, identity.UserID)
	case len(parts) == 1 && parts[0] == "sessions":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		sessions, err := a.issuer.Sessions(r.Context(), identity.UserID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
	case len(parts) == 2 && parts[0] == "sessions":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		if err := a.issuer.RevokeOwned(r.Context(), identity.UserID, parts[1]); err != nil {
			handleAuthError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 1 && parts[0] == "permissions":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		perms, err := a.resolver.EffectivePermissions(r.Context(), identity.UserID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"permissions": permissionList(perms)})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) selfPreferences(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		prefs, err := a.accounts.Preferences(r.Context(), userID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, prefs)
	case http.MethodPut:
		var prefs auth.Preferences
		if err := decodeJSON(w, r, &prefs); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		prefs.UserID = userID
		if err := a.accounts.UpdatePreferences(r.Context(), &prefs); err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, prefs)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, auth.PermUsersRead) {
		return
	}
	user, err := a.accounts.Get(r.Context(), userID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (a *API) userRoles(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermUsersRead) {
			return
		}
		roles, err := a.resolver.Roles(r.Context(), userID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermUsersManageRoles) {
			return
		}
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.resolver.AssignRole(r.Context(), userID, req.Role, identity.UserID, req.ExpiresAt); err != nil {
			handleAuthError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) removeUserRole(w http.ResponseWriter, r *http.Request, userID, roleName string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, auth.PermUsersManageRoles) {
		return
	}
	if err := a.resolver.RemoveRole(r.Context(), userID, roleName); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) userPermissions(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, auth.PermUsersRead) {
		return
	}
	perms, err := a.resolver.EffectivePermissions(r.Context(), userID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": permissionList(perms)})
}

func (a *API) setUserActive(w http.ResponseWriter, r *http.Request, userID string, active bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermUsersUpdate) {
		return
	}
	if err := a.accounts.SetActive(r.Context(), userID, active); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func permissionList(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
