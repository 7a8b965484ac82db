package auth

import (
	"fmt"
	"strings"
)

// PermissionName is a validated "module:action" capability name. Construct it
// through ParsePermission; checks against arbitrary strings go through
// Resolver.HasPermission, which treats malformed names as simply not held.
type PermissionName string

// ParsePermission validates raw against the module:action convention. Both
// segments must be non-empty, lower-case and free of whitespace.
func ParsePermission(raw string) (PermissionName, error) {
	raw = strings.TrimSpace(raw)
	module, action, ok := strings.Cut(raw, ":")
	if !ok || module == "" || action == "" {
		return "", fmt.Errorf("%w: permission name must be module:action", ErrInvalidInput)
	}
	if strings.ContainsAny(raw, " \t\n") || raw != strings.ToLower(raw) {
		return "", fmt.Errorf("%w: permission name must be lower-case without spaces", ErrInvalidInput)
	}
	if strings.Contains(action, ":") {
		return "", fmt.Errorf("%w: permission name has too many separators", ErrInvalidInput)
	}
	return PermissionName(raw), nil
}

// Module returns the segment before the separator.
func (p PermissionName) Module() string {
	module, _, _ := strings.Cut(string(p), ":")
	return module
}

// Action returns the segment after the separator.
func (p PermissionName) Action() string {
	_, action, _ := strings.Cut(string(p), ":")
	return action
}

func (p PermissionName) String() string { return string(p) }

// Built-in permission catalog, seeded at migration time.
const (
	PermUsersList        = "users:list"
	PermUsersCreate      = "users:create"
	PermUsersRead        = "users:read"
	PermUsersUpdate      = "users:update"
	PermUsersDelete      = "users:delete"
	PermUsersManageRoles = "users:manage_roles"
	PermUsersViewLogs    = "users:view_activity"

	PermPostsCreate  = "posts:create"
	PermPostsRead    = "posts:read"
	PermPostsUpdate  = "posts:update"
	PermPostsDelete  = "posts:delete"
	PermPostsPublish = "posts:publish"

	PermCommentsCreate   = "comments:create"
	PermCommentsRead     = "comments:read"
	PermCommentsModerate = "comments:moderate"

	PermAnalyticsView   = "analytics:view"
	PermAnalyticsExport = "analytics:export"

	PermSettingsManage      = "settings:manage"
	PermSettingsManageRoles = "settings:manage_roles"
)

// System role names and hierarchy levels. Higher level means more privileged.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleEditor     = "editor"
	RoleAuthor     = "author"
	RoleUser       = "user"

	LevelSuperAdmin = 40
	LevelAdmin      = 30
	LevelEditor     = 20
	LevelAuthor     = 10
	LevelUser       = 0
)
