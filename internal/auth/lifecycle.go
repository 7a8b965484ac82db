package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"userhub.org/internal/ids"
	"userhub.org/internal/obs"
)

const (
	defaultMinPasswordLength = 8
	defaultVerifyTTL         = 24 * time.Hour
	defaultResetTTL          = time.Hour
)

// RequestMeta carries caller network metadata into session and activity rows.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// RegisterInput is the payload for account creation.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Accounts implements the account lifecycle: registration, authentication,
// password changes and resets, email verification, activation state.
type Accounts struct {
	store     Store
	hasher    Hasher
	recorder  *Recorder
	minPwLen  int
	verifyTTL time.Duration
	resetTTL  time.Duration
	now       func() time.Time
}

// AccountsOption configures Accounts behavior.
type AccountsOption func(*Accounts)

// WithMinPasswordLength sets the password policy floor.
func WithMinPasswordLength(n int) AccountsOption {
	return func(a *Accounts) {
		if n > 0 {
			a.minPwLen = n
		}
	}
}

// WithVerificationTTL sets the email verification token lifetime.
func WithVerificationTTL(d time.Duration) AccountsOption {
	return func(a *Accounts) {
		if d > 0 {
			a.verifyTTL = d
		}
	}
}

// WithResetTTL sets the password reset token lifetime.
func WithResetTTL(d time.Duration) AccountsOption {
	return func(a *Accounts) {
		if d > 0 {
			a.resetTTL = d
		}
	}
}

// WithRecorder attaches an activity recorder.
func WithRecorder(rec *Recorder) AccountsOption {
	return func(a *Accounts) {
		a.recorder = rec
	}
}

// WithAccountsClock overrides the time source (tests).
func WithAccountsClock(fn func() time.Time) AccountsOption {
	return func(a *Accounts) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewAccounts constructs the lifecycle service.
func NewAccounts(store Store, hasher Hasher, opts ...AccountsOption) (*Accounts, error) {
	if store == nil {
		return nil, errors.New("auth: accounts store is required")
	}
	a := &Accounts{
		store:     store,
		hasher:    hasher,
		minPwLen:  defaultMinPasswordLength,
		verifyTTL: defaultVerifyTTL,
		resetTTL:  defaultResetTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Register creates a new account with a hashed password and an unverified
// email. The returned string is the raw email verification token; it goes to
// the trusted hosting layer for delivery and is never logged or persisted in
// the clear.
func (a *Accounts) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (*User, string, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if username == "" {
		return nil, "", fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if err := a.checkPasswordPolicy(in.Password); err != nil {
		return nil, "", err
	}
	hash, err := a.hasher.Hash(in.Password)
	if err != nil {
		return nil, "", err
	}

	now := a.now().UTC()
	user := &User{
		ID:           ids.New(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}

	verifyToken, err := a.createLifecycleToken(ctx, user.ID, PurposeVerifyEmail, a.verifyTTL)
	if err != nil {
		// The account exists; a fresh verification token can be issued later.
		obs.LogError("verification token creation failed", err, map[string]any{"user_id": user.ID})
		verifyToken = ""
	}

	a.recorder.Record(ctx, ActivityEntry{
		UserID:    user.ID,
		Action:    ActionRegister,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Metadata:  map[string]any{"username": username},
	})
	return user, verifyToken, nil
}

// Authenticate verifies credentials by username or email. Unknown identifier
// and wrong password are indistinguishable to the caller and take comparable
// time. Updates last_login on success.
func (a *Accounts) Authenticate(ctx context.Context, usernameOrEmail, password string, meta RequestMeta) (*User, error) {
	identifier := strings.TrimSpace(usernameOrEmail)
	if identifier == "" || password == "" {
		a.hasher.burn(password)
		return nil, ErrInvalidCredentials
	}

	user, err := a.lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			a.hasher.burn(password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.DeletedAt != nil {
		a.hasher.burn(password)
		return nil, ErrInvalidCredentials
	}
	if !a.hasher.Verify(password, user.PasswordHash) {
		a.recorder.Record(ctx, ActivityEntry{
			UserID:    user.ID,
			Action:    ActionLoginFailed,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
		})
		obs.ObserveLogin("denied")
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		obs.ObserveLogin("denied")
		return nil, ErrAccountInactive
	}

	now := a.now().UTC()
	if err := a.store.UpdateLastLogin(ctx, user.ID, now); err != nil {
		obs.LogError("last login update failed", err, map[string]any{"user_id": user.ID})
	} else {
		user.LastLogin = &now
	}
	a.recorder.Record(ctx, ActivityEntry{
		UserID:    user.ID,
		Action:    ActionLogin,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	obs.ObserveLogin("ok")
	return user, nil
}

// ChangePassword verifies the old password, applies the policy to the new
// one, then atomically swaps the hash and revokes every session of the user.
// Forcing re-login everywhere on a password change is deliberate policy.
func (a *Accounts) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !a.hasher.Verify(oldPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	if err := a.checkPasswordPolicy(newPassword); err != nil {
		return err
	}
	hash, err := a.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := a.store.UpdatePasswordRevokeSessions(ctx, userID, hash); err != nil {
		return err
	}
	a.recorder.Record(ctx, ActivityEntry{
		UserID: userID,
		Action: ActionPasswordChanged,
	})
	return nil
}

// RequestPasswordReset creates a single-use reset token when the email maps
// to an account. It succeeds either way: the caller learns nothing about
// whether the email exists. The raw token is returned to the trusted hosting
// layer for delivery.
func (a *Accounts) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if user.DeletedAt != nil || !user.Active {
		return "", nil
	}
	return a.createLifecycleToken(ctx, user.ID, PurposePasswordReset, a.resetTTL)
}

// ResetPassword consumes a reset token exactly once, replaces the password
// hash and revokes all sessions.
func (a *Accounts) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	token, err := a.lookupLifecycleToken(ctx, PurposePasswordReset, rawToken)
	if err != nil {
		return err
	}
	if err := a.checkPasswordPolicy(newPassword); err != nil {
		return err
	}
	hash, err := a.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := a.store.ConsumeTokenResetPassword(ctx, token.ID, token.UserID, hash); err != nil {
		return err
	}
	a.recorder.Record(ctx, ActivityEntry{
		UserID: token.UserID,
		Action: ActionPasswordReset,
	})
	return nil
}

// VerifyEmail consumes a verification token exactly once and marks the
// account verified. Re-presenting a consumed token is an error, not a silent
// success.
func (a *Accounts) VerifyEmail(ctx context.Context, rawToken string) error {
	token, err := a.lookupLifecycleToken(ctx, PurposeVerifyEmail, rawToken)
	if err != nil {
		return err
	}
	if err := a.store.ConsumeTokenVerifyEmail(ctx, token.ID, token.UserID); err != nil {
		return err
	}
	a.recorder.Record(ctx, ActivityEntry{
		UserID: token.UserID,
		Action: ActionEmailVerified,
	})
	return nil
}

// SetActive toggles the activation state. Deactivation revokes all sessions.
func (a *Accounts) SetActive(ctx context.Context, userID string, active bool) error {
	if err := a.store.SetUserActive(ctx, userID, active); err != nil {
		return err
	}
	action := ActionReactivated
	if !active {
		action = ActionDeactivated
	}
	a.recorder.Record(ctx, ActivityEntry{UserID: userID, Action: action})
	return nil
}

// Get returns the user by id.
func (a *Accounts) Get(ctx context.Context, userID string) (*User, error) {
	return a.store.GetUser(ctx, userID)
}

// Preferences returns the user's settings, falling back to defaults when no
// row exists yet.
func (a *Accounts) Preferences(ctx context.Context, userID string) (*Preferences, error) {
	prefs, err := a.store.GetPreferences(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &Preferences{
				UserID:             userID,
				Theme:              "light",
				Language:           "en",
				Timezone:           "UTC",
				EmailNotifications: true,
				DigestFrequency:    "daily",
			}, nil
		}
		return nil, err
	}
	return prefs, nil
}

// UpdatePreferences stores the user's settings.
func (a *Accounts) UpdatePreferences(ctx context.Context, prefs *Preferences) error {
	if prefs == nil || prefs.UserID == "" {
		return ErrInvalidInput
	}
	prefs.UpdatedAt = a.now().UTC()
	return a.store.UpsertPreferences(ctx, prefs)
}

func (a *Accounts) lookup(ctx context.Context, identifier string) (*User, error) {
	if strings.Contains(identifier, "@") {
		return a.store.GetUserByEmail(ctx, strings.ToLower(identifier))
	}
	return a.store.GetUserByUsername(ctx, identifier)
}

func (a *Accounts) createLifecycleToken(ctx context.Context, userID, purpose string, ttl time.Duration) (string, error) {
	secret, err := ids.Secret()
	if err != nil {
		return "", err
	}
	now := a.now().UTC()
	token := &LifecycleToken{
		ID:        ids.New(),
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: hashSecret(secret),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := a.store.CreateLifecycleToken(ctx, token); err != nil {
		return "", err
	}
	return secret, nil
}

// lookupLifecycleToken resolves a raw token to its record and classifies the
// terminal states: consumed wins over expired, both over plain invalid.
func (a *Accounts) lookupLifecycleToken(ctx context.Context, purpose, rawToken string) (*LifecycleToken, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrTokenInvalid
	}
	token, err := a.store.GetLifecycleToken(ctx, purpose, hashSecret(rawToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if token.UsedAt != nil {
		return nil, ErrTokenAlreadyUsed
	}
	if a.now().UTC().After(token.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return token, nil
}

func (a *Accounts) checkPasswordPolicy(password string) error {
	if len(password) < a.minPwLen {
		return fmt.Errorf("%w: minimum length is %d", ErrWeakPassword, a.minPwLen)
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return fmt.Errorf("%w: must contain letters and digits", ErrWeakPassword)
	}
	return nil
}
