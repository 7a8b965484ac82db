package auth

import "errors"

// Expected, typed outcomes. The HTTP layer maps these to status codes and
// collapses the credential-guessing-relevant ones into uniform messages.
var (
	// Validation failures.
	ErrInvalidInput      = errors.New("auth: invalid input")
	ErrDuplicateUsername = errors.New("auth: username already taken")
	ErrDuplicateEmail    = errors.New("auth: email already taken")
	ErrWeakPassword      = errors.New("auth: password does not meet policy")

	// Authentication failures. ErrInvalidCredentials covers both unknown
	// identifier and wrong password; callers must not be able to tell them
	// apart.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountInactive    = errors.New("auth: account inactive")
	ErrTokenInvalid       = errors.New("auth: token invalid")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrSessionRevoked     = errors.New("auth: session revoked")
	ErrTokenAlreadyUsed   = errors.New("auth: token already used")

	// Reference-data failures.
	ErrNotFound = errors.New("auth: not found")
	ErrConflict = errors.New("auth: resource conflict")

	// ErrUnavailable marks infrastructure failures (persistence errors,
	// timeouts). Distinct from any authorization outcome so callers never
	// conflate "cannot confirm permission" with "permission denied".
	ErrUnavailable = errors.New("auth: store unavailable")
)
