package auth

import (
	"strings"
	"testing"
)

func TestHashIsSelfSalted(t *testing.T) {
	h := NewHasher(4)

	first, err := h.Hash("correct horse battery 1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	second, err := h.Hash("correct horse battery 1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct digests for the same input")
	}
	if !h.Verify("correct horse battery 1", first) || !h.Verify("correct horse battery 1", second) {
		t.Fatal("both digests must verify")
	}
}

func TestVerifyRejectsWrongPassword(t *testing.T) {
	h := NewHasher(4)
	digest, err := h.Hash("right-password-1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h.Verify("wrong-password-1", digest) {
		t.Fatal("wrong password verified")
	}
}

func TestVerifyMalformedDigest(t *testing.T) {
	h := NewHasher(4)
	for _, digest := range []string{"", "not-a-bcrypt-digest", "$2a$xx$broken"} {
		if h.Verify("anything1", digest) {
			t.Fatalf("malformed digest %q verified", digest)
		}
	}
}

func TestHashRejectsEmptyPassword(t *testing.T) {
	h := NewHasher(4)
	if _, err := h.Hash(""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestDigestEmbedsCost(t *testing.T) {
	h := NewHasher(4)
	digest, err := h.Hash("cost check 1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.Contains(digest, "$04$") {
		t.Fatalf("expected cost 04 in digest, got %s", digest)
	}
	// A hasher configured with a different cost still verifies old digests.
	other := NewHasher(5)
	if !other.Verify("cost check 1", digest) {
		t.Fatal("digest from another cost did not verify")
	}
}

func TestBurnDoesNotPanic(t *testing.T) {
	h := NewHasher(4)
	h.burn("whatever")
	h.burn("")
}
