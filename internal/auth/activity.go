package auth

import (
	"context"
	"time"

	"userhub.org/internal/ids"
	"userhub.org/internal/obs"
)

// Closed vocabulary of security-relevant actions. External collaborators may
// record additional free-form actions through Recorder.Record.
const (
	ActionRegister        = "user.register"
	ActionLogin           = "user.login"
	ActionLoginFailed     = "user.login_failed"
	ActionLogout          = "user.logout"
	ActionTokenRefreshed  = "session.refreshed"
	ActionSessionRevoked  = "session.revoked"
	ActionPasswordChanged = "user.password_changed"
	ActionPasswordReset   = "user.password_reset"
	ActionEmailVerified   = "user.email_verified"
	ActionRoleAssigned    = "user.role_assigned"
	ActionRoleRemoved     = "user.role_removed"
	ActionDeactivated     = "user.deactivated"
	ActionReactivated     = "user.reactivated"
)

// Recorder appends entries to the append-only activity log. Recording is
// best-effort relative to the operation that triggered it: failures are
// logged and never propagated, and a nil Recorder is a no-op.
type Recorder struct {
	store ActivityStore
	now   func() time.Time
}

// NewRecorder constructs a Recorder over the given store.
func NewRecorder(store ActivityStore) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record appends one immutable entry. Never returns an error.
func (r *Recorder) Record(ctx context.Context, entry ActivityEntry) {
	if r == nil || r.store == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}
	if err := r.store.AppendActivity(ctx, &entry); err != nil {
		obs.LogError("activity record failed", err, map[string]any{
			"action":  entry.Action,
			"user_id": entry.UserID,
		})
	}
}
