package auth

import (
	"context"
	"time"
)

// Store is the persistence contract consumed by the authentication core. The
// PostgreSQL implementation lives in internal/store/pg; tests use in-memory
// stand-ins. Implementations map unique-constraint violations to the typed
// duplicate errors and wrap infrastructure failures in ErrUnavailable.
type Store interface {
	UserStore
	RoleStore
	SessionStore
	LifecycleTokenStore
	ActivityStore
	PreferenceStore
}

// UserStore manages identity records.
type UserStore interface {
	// CreateUser persists a new user. Returns ErrDuplicateUsername or
	// ErrDuplicateEmail on unique violations.
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	// GetUserByEmail matches case-insensitively.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	// UpdatePasswordRevokeSessions atomically replaces the password hash and
	// revokes every active session of the user.
	UpdatePasswordRevokeSessions(ctx context.Context, userID, passwordHash string) error
	// SetUserActive toggles the active flag; deactivation revokes all
	// sessions in the same transaction.
	SetUserActive(ctx context.Context, userID string, active bool) error
	SoftDeleteUser(ctx context.Context, userID string) error
}

// RoleStore manages the role and permission catalog plus assignments.
type RoleStore interface {
	CreateRole(ctx context.Context, role *Role) error
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	// DeleteRole refuses to delete system roles with ErrConflict.
	DeleteRole(ctx context.Context, roleID string) error

	EnsurePermissions(ctx context.Context, perms []Permission) error
	ListPermissions(ctx context.Context) ([]Permission, error)
	SetRolePermissions(ctx context.Context, roleID string, permissionNames []string) error
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)

	// UpsertAssignment creates the (user, role) assignment or refreshes an
	// existing row; assigning an already-held role is not an error.
	UpsertAssignment(ctx context.Context, a RoleAssignment) error
	// DeleteAssignment removes the assignment if present; absence is not an
	// error.
	DeleteAssignment(ctx context.Context, userID, roleID string) error
	// ActiveRolesForUser returns roles whose assignment has not expired at
	// the given instant.
	ActiveRolesForUser(ctx context.Context, userID string, now time.Time) ([]Role, error)
	// ActivePermissionsForUser returns the distinct permission names
	// reachable through non-expired assignments.
	ActivePermissionsForUser(ctx context.Context, userID string, now time.Time) ([]string, error)
}

// SessionStore manages issued token-pair records.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// RotateSession swaps the refresh digest in a single conditional update
	// keyed on (id, oldHash, active status). Returns ErrConflict when no row
	// matched, which callers surface as ErrTokenInvalid: a consumed refresh
	// token must not rotate twice.
	RotateSession(ctx context.Context, id, oldHash, newHash string, expiresAt time.Time) error
	RevokeSession(ctx context.Context, id string) error
	RevokeUserSessions(ctx context.Context, userID string) error
	ListUserSessions(ctx context.Context, userID string) ([]Session, error)
}

// LifecycleTokenStore manages single-use verification and reset tokens.
type LifecycleTokenStore interface {
	CreateLifecycleToken(ctx context.Context, t *LifecycleToken) error
	GetLifecycleToken(ctx context.Context, purpose, tokenHash string) (*LifecycleToken, error)
	// ConsumeTokenResetPassword atomically marks the token used, replaces the
	// user's password hash and revokes all sessions. Returns
	// ErrTokenAlreadyUsed when the token was consumed concurrently.
	ConsumeTokenResetPassword(ctx context.Context, tokenID, userID, passwordHash string) error
	// ConsumeTokenVerifyEmail atomically marks the token used and flags the
	// account email-verified.
	ConsumeTokenVerifyEmail(ctx context.Context, tokenID, userID string) error
}

// ActivityStore appends immutable audit entries.
type ActivityStore interface {
	AppendActivity(ctx context.Context, e *ActivityEntry) error
}

// PreferenceStore manages per-user settings.
type PreferenceStore interface {
	GetPreferences(ctx context.Context, userID string) (*Preferences, error)
	UpsertPreferences(ctx context.Context, p *Preferences) error
}
