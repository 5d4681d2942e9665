// Package crypto implements server-side password hashing and
// verification. This is the only cryptography the server performs;
// message bodies arrive and leave as opaque ciphertext.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters. Memory is in KiB.
const (
	hashIters    uint32 = 3
	hashMemory   uint32 = 64 * 1024
	hashParallel uint8  = 1
	hashLen      uint32 = 32
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// HashPassword derives an Argon2id hash of password with the given salt.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, hashIters, hashMemory, hashParallel, hashLen)
}

// VerifyPassword reports whether password matches the stored hash.
// The comparison is constant-time.
func VerifyPassword(password, salt, expected []byte) bool {
	return subtle.ConstantTimeCompare(HashPassword(password, salt), expected) == 1
}
