package auth

import (
	"strings"
	"time"
)

// Session lifecycle states. A session is created active and stays active
// across refresh rotations until revoked or expired.
const (
	SessionActive  = "active"
	SessionRevoked = "revoked"
)

// Lifecycle token purposes.
const (
	PurposeVerifyEmail   = "verify_email"
	PurposePasswordReset = "password_reset"
)

// User is the identity record. PasswordHash never crosses the JSON boundary.
type User struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	FirstName     string     `json:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty"`
	AvatarURL     string     `json:"avatar_url,omitempty"`
	Bio           string     `json:"bio,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	Active        bool       `json:"active"`
	EmailVerified bool       `json:"email_verified"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"-"`
}

// FullName derives a display name from the profile fields, falling back to
// the username.
func (u *User) FullName() string {
	first := strings.TrimSpace(u.FirstName)
	last := strings.TrimSpace(u.LastName)
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	default:
		return u.Username
	}
}

// Role is a named permission bundle with a numeric hierarchy level. System
// roles are seeded by migration and cannot be deleted.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Level       int       `json:"level"`
	System      bool      `json:"system"`
	CreatedAt   time.Time `json:"created_at"`
}

// Permission is an atomic capability named "module:action". The name is
// validated at creation and immutable afterwards.
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Module      string    `json:"module"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoleAssignment binds a role to a user, optionally until expires_at. An
// expired assignment contributes nothing to permission resolution.
type RoleAssignment struct {
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	AssignedBy string     `json:"assigned_by,omitempty"`
	AssignedAt time.Time  `json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// ActiveAt reports whether the assignment still counts at the given instant.
func (a RoleAssignment) ActiveAt(now time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// Session is the server-side record for one issued token pair. Only a digest
// of the refresh secret is stored.
type Session struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	RefreshHash      string     `json:"-"`
	IP               string     `json:"ip,omitempty"`
	UserAgent        string     `json:"user_agent,omitempty"`
	Status           string     `json:"status"`
	RefreshExpiresAt time.Time  `json:"refresh_expires_at"`
	CreatedAt        time.Time  `json:"created_at"`
	RotatedAt        *time.Time `json:"rotated_at,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
}

// ActivityEntry is one immutable row of the security audit trail.
type ActivityEntry struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	IP         string         `json:"ip,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// LifecycleToken is a single-use, time-boxed token bound to a user and a
// purpose (email verification or password reset). Consumption and expiry are
// mutually exclusive terminal states.
type LifecycleToken struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Purpose   string     `json:"purpose"`
	TokenHash string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// Preferences holds per-user settings, one row per user.
type Preferences struct {
	UserID             string    `json:"user_id"`
	Theme              string    `json:"theme"`
	Language           string    `json:"language"`
	Timezone           string    `json:"timezone"`
	EmailNotifications bool      `json:"email_notifications"`
	DigestFrequency    string    `json:"digest_frequency"`
	TwoFactorEnabled   bool      `json:"two_factor_enabled"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Identity is the result of validating an access token.
type Identity struct {
	UserID    string
	SessionID string
}
