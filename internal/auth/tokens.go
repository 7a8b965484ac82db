package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"userhub.org/internal/ids"
	"userhub.org/internal/obs"
)

const (
	defaultAccessTTL    = time.Hour
	defaultRefreshTTL   = 7 * 24 * time.Hour
	defaultStoreTimeout = 3 * time.Second

	tokenTypeAccess = "access"
)

// AccessClaims is the JWT payload of an access token. The session id binds
// the token to a revocable server-side session.
type AccessClaims struct {
	SessionID string `json:"sid"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenPair is one issued access/refresh pair.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

// Issuer mints, validates, refreshes and revokes token pairs.
type Issuer struct {
	store        Store
	recorder     *Recorder
	secret       []byte
	issuer       string
	accessTTL    time.Duration
	refreshTTL   time.Duration
	storeTimeout time.Duration
	now          func() time.Time
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer) error

// WithIssuerName overrides the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) error {
		if strings.TrimSpace(name) != "" {
			i.issuer = strings.TrimSpace(name)
		}
		return nil
	}
}

// WithAccessTTL configures the access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if ttl > 0 {
			i.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
		return nil
	}
}

// WithIssuerRecorder attaches an activity recorder for refresh and revocation
// events.
func WithIssuerRecorder(rec *Recorder) IssuerOption {
	return func(i *Issuer) error {
		i.recorder = rec
		return nil
	}
}

// WithStoreTimeout bounds every persistence call made during validation.
func WithStoreTimeout(d time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if d > 0 {
			i.storeTimeout = d
		}
		return nil
	}
}

// WithIssuerClock overrides the time source (tests).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) error {
		if fn != nil {
			i.now = fn
		}
		return nil
	}
}

// NewIssuer constructs an Issuer signing with HS256 over the given secret.
func NewIssuer(store Store, secret string, opts ...IssuerOption) (*Issuer, error) {
	if store == nil {
		return nil, errors.New("auth: issuer store is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is required")
	}
	iss := &Issuer{
		store:        store,
		secret:       []byte(secret),
		issuer:       "userhub",
		accessTTL:    defaultAccessTTL,
		refreshTTL:   defaultRefreshTTL,
		storeTimeout: defaultStoreTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		if err := opt(iss); err != nil {
			return nil, err
		}
	}
	return iss, nil
}

// Issue mints an access/refresh pair for the user and records an active
// session bound to the caller's network metadata.
func (i *Issuer) Issue(ctx context.Context, user *User, ip, userAgent string) (TokenPair, error) {
	if user == nil || user.ID == "" {
		return TokenPair{}, ErrInvalidInput
	}
	now := i.now().UTC()
	sessionID := ids.New()
	secret, err := ids.Secret()
	if err != nil {
		return TokenPair{}, err
	}
	session := &Session{
		ID:               sessionID,
		UserID:           user.ID,
		RefreshHash:      hashSecret(secret),
		IP:               ip,
		UserAgent:        userAgent,
		Status:           SessionActive,
		RefreshExpiresAt: now.Add(i.refreshTTL),
		CreatedAt:        now,
	}
	if err := i.store.CreateSession(ctx, session); err != nil {
		return TokenPair{}, err
	}
	access, accessExp, err := i.signAccessToken(user.ID, sessionID, now)
	if err != nil {
		return TokenPair{}, err
	}
	obs.ObserveTokenIssued("password")
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     sessionID + "." + secret,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: session.RefreshExpiresAt,
		SessionID:        sessionID,
	}, nil
}

// Validate checks the access token signature, structure and expiry, then the
// bound session. A revoked session fails validation regardless of the token's
// own expiry.
func (i *Issuer) Validate(ctx context.Context, accessToken string) (Identity, error) {
	claims, err := i.parseAccessToken(accessToken)
	if err != nil {
		return Identity{}, err
	}
	session, err := i.loadSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrTokenInvalid
		}
		return Identity{}, err
	}
	if session.Status != SessionActive {
		return Identity{}, ErrSessionRevoked
	}
	if session.UserID != claims.Subject {
		return Identity{}, ErrTokenInvalid
	}
	return Identity{UserID: claims.Subject, SessionID: claims.SessionID}, nil
}

// Refresh rotates the refresh token: the presented secret is consumed, the
// session keeps its identity under a new refresh digest, and a fresh pair is
// returned. A second refresh with the same token fails with ErrTokenInvalid.
func (i *Issuer) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	sessionID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, ErrTokenInvalid
	}
	session, err := i.loadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrTokenInvalid
		}
		return TokenPair{}, err
	}
	now := i.now().UTC()
	if session.Status != SessionActive {
		return TokenPair{}, ErrSessionRevoked
	}
	if now.After(session.RefreshExpiresAt) {
		return TokenPair{}, ErrTokenExpired
	}
	if session.RefreshHash != hashSecret(secret) {
		return TokenPair{}, ErrTokenInvalid
	}

	user, err := i.store.GetUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrTokenInvalid
		}
		return TokenPair{}, err
	}
	if !user.Active || user.DeletedAt != nil {
		return TokenPair{}, ErrAccountInactive
	}

	newSecret, err := ids.Secret()
	if err != nil {
		return TokenPair{}, err
	}
	newExpiry := now.Add(i.refreshTTL)
	err = i.store.RotateSession(ctx, sessionID, hashSecret(secret), hashSecret(newSecret), newExpiry)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return TokenPair{}, ErrTokenInvalid
		}
		return TokenPair{}, err
	}

	access, accessExp, err := i.signAccessToken(user.ID, sessionID, now)
	if err != nil {
		return TokenPair{}, err
	}
	obs.ObserveTokenIssued("refresh")
	i.recorder.Record(ctx, ActivityEntry{
		UserID:     user.ID,
		Action:     ActionTokenRefreshed,
		EntityType: "session",
		EntityID:   sessionID,
	})
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     sessionID + "." + newSecret,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: newExpiry,
		SessionID:        sessionID,
	}, nil
}

// Revoke transitions one session to revoked. Subsequent validations of its
// tokens fail immediately.
func (i *Issuer) Revoke(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidInput
	}
	return i.store.RevokeSession(ctx, sessionID)
}

// RevokeOwned revokes one session after checking it belongs to the user, for
// self-service session management.
func (i *Issuer) RevokeOwned(ctx context.Context, userID, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidInput
	}
	session, err := i.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return ErrNotFound
	}
	if err := i.store.RevokeSession(ctx, sessionID); err != nil {
		return err
	}
	i.recorder.Record(ctx, ActivityEntry{
		UserID:     userID,
		Action:     ActionSessionRevoked,
		EntityType: "session",
		EntityID:   sessionID,
	})
	return nil
}

// RevokeAll revokes every session of the user ("logout everywhere").
func (i *Issuer) RevokeAll(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidInput
	}
	return i.store.RevokeUserSessions(ctx, userID)
}

// Sessions lists the user's session records.
func (i *Issuer) Sessions(ctx context.Context, userID string) ([]Session, error) {
	return i.store.ListUserSessions(ctx, userID)
}

func (i *Issuer) signAccessToken(userID, sessionID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(i.accessTTL)
	claims := AccessClaims{
		SessionID: sessionID,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (i *Issuer) parseAccessToken(raw string) (*AccessClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(raw, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return i.secret, nil
	}, jwt.WithIssuer(i.issuer), jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != tokenTypeAccess || strings.TrimSpace(claims.Subject) == "" || claims.SessionID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// loadSession bounds the read with the store timeout and retries once on an
// infrastructure failure; session reads are idempotent.
func (i *Issuer) loadSession(ctx context.Context, id string) (*Session, error) {
	readCtx, cancel := context.WithTimeout(ctx, i.storeTimeout)
	defer cancel()
	session, err := i.store.GetSession(readCtx, id)
	if err != nil && errors.Is(err, ErrUnavailable) {
		session, err = i.store.GetSession(readCtx, id)
	}
	return session, err
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	id, secret, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || id == "" || secret == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return id, secret, nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
