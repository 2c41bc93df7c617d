package auth

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// argon2id parameters; RFC 9106 low-memory profile.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// NewSalt returns a fresh random salt for HashSecret.
func NewSalt() []byte {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		panic("auth: rand.Read failed: " + err.Error())
	}
	return salt
}

// HashSecret derives the stored hash for a token secret.
func HashSecret(secret string, salt []byte) []byte {
	return argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifySecret re-derives and compares in constant time.
func VerifySecret(secret string, salt, want []byte) bool {
	if len(salt) == 0 || len(want) == 0 {
		return false
	}
	got := HashSecret(secret, salt)
	return subtle.ConstantTimeCompare(got, want) == 1
}
