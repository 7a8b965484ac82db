package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"userhub.org/internal/ids"
)

const defaultHashCost = 12

// Hasher produces and verifies bcrypt digests. The work factor is embedded in
// each digest, so digests produced under an older cost keep verifying after
// the configured cost changes.
type Hasher struct {
	cost  int
	dummy string
}

// NewHasher builds a Hasher with the given cost, clamped to the bcrypt range.
// A throwaway digest is precomputed so lookups for unknown identifiers can
// burn the same verification work as real ones.
func NewHasher(cost int) Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = defaultHashCost
	}
	filler, err := ids.Secret()
	if err != nil {
		filler = "userhub-dummy-credential"
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(filler), cost)
	if err != nil {
		dummy = nil
	}
	return Hasher{cost: cost, dummy: string(dummy)}
}

// Hash returns a self-salted digest of plaintext. Two calls with the same
// input yield different digests.
func (h Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("password is empty")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. Malformed digests are
// treated as a non-match, never an error.
func (h Hasher) Verify(plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// burn runs one verification against the precomputed dummy digest so the
// unknown-identifier path does not return observably faster than a wrong
// password.
func (h Hasher) burn(plaintext string) {
	if h.dummy == "" {
		return
	}
	_ = bcrypt.CompareHashAndPassword([]byte(h.dummy), []byte(plaintext))
}
