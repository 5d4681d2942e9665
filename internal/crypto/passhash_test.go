package crypto

import (
	"bytes"
	"testing"
)

func TestRandBytes(t *testing.T) {
	t.Parallel()

	const n = 32
	salt1, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(salt1) != n {
		t.Fatalf("len=%d, want=%d", len(salt1), n)
	}
	if bytes.Equal(salt1, make([]byte, n)) {
		t.Fatalf("RandBytes returned all zeros")
	}

	salt2, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes second call: %v", err)
	}
	if bytes.Equal(salt1, salt2) {
		t.Fatalf("two salts from RandBytes(%d) collided", n)
	}
}

func TestHashPassword(t *testing.T) {
	t.Parallel()

	pw := []byte("ember-tiger-9")
	salt := []byte("0123456789abcdef")

	h := HashPassword(pw, salt)
	if len(h) != int(hashLen) {
		t.Fatalf("hash len=%d, want=%d", len(h), hashLen)
	}
	if !bytes.Equal(h, HashPassword(pw, salt)) {
		t.Fatalf("same password and salt produced different hashes")
	}
	if bytes.Equal(h, HashPassword(pw, []byte("fedcba9876543210"))) {
		t.Fatalf("different salt produced the same hash")
	}
	if bytes.Equal(h, HashPassword([]byte("ember-tiger-8"), salt)) {
		t.Fatalf("different password produced the same hash")
	}
}

func TestVerifyPassword(t *testing.T) {
	t.Parallel()

	pw := []byte("long enough to be a decent passphrase")
	salt, err := RandBytes(16)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	hash := HashPassword(pw, salt)

	if !VerifyPassword(pw, salt, hash) {
		t.Fatalf("correct password rejected")
	}
	if VerifyPassword([]byte("guess"), salt, hash) {
		t.Fatalf("wrong password accepted")
	}
	if VerifyPassword(pw, []byte("other-salt-here!"), hash) {
		t.Fatalf("wrong salt accepted")
	}
	if VerifyPassword(nil, salt, hash) {
		t.Fatalf("nil password accepted")
	}

	tampered := append([]byte(nil), hash...)
	tampered[0] ^= 0x01
	if VerifyPassword(pw, salt, tampered) {
		t.Fatalf("tampered hash accepted")
	}
}
