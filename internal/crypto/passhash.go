// Package crypto implements owner passphrase derivation and constant-time digest comparison.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KDF selects the one-way derivation used for the owner passphrase.
type KDF string

const (
	KDFPBKDF2   KDF = "pbkdf2"
	KDFArgon2id KDF = "argon2id"
)

// Derivation parameters.
const (
	DefaultIterations = 100_000
	KeyLen            = 32

	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
)

// ParseKDF resolves a configured KDF name; empty means PBKDF2.
func ParseKDF(s string) (KDF, error) {
	switch KDF(strings.ToLower(strings.TrimSpace(s))) {
	case "", KDFPBKDF2:
		return KDFPBKDF2, nil
	case KDFArgon2id:
		return KDFArgon2id, nil
	default:
		return "", fmt.Errorf("unknown kdf %q", s)
	}
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// OwnerSalt joins the configured salt and pepper the same way the digest was provisioned.
func OwnerSalt(salt, pepper string) []byte {
	return []byte(salt + ":" + pepper)
}

// Derive returns a KeyLen-byte digest of secret. For PBKDF2 iterations is the
// HMAC-SHA256 round count; for Argon2id it is the time cost.
func Derive(kdf KDF, secret, salt []byte, iterations int) []byte {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	if kdf == KDFArgon2id {
		return argon2.IDKey(secret, salt, uint32(iterations), argonMemory, argonThreads, KeyLen)
	}
	return pbkdf2.Key(secret, salt, iterations, KeyLen, sha256.New)
}

// DeriveHex is Derive encoded as lowercase hex.
func DeriveHex(kdf KDF, secret, salt []byte, iterations int) string {
	return hex.EncodeToString(Derive(kdf, secret, salt, iterations))
}

// VerifyHex compares two hex digests in constant time.
// Empty inputs and length mismatches are rejected without comparing contents.
func VerifyHex(candidateHex, expectedHex string) bool {
	if candidateHex == "" || expectedHex == "" {
		return false
	}
	if len(candidateHex) != len(expectedHex) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidateHex), []byte(strings.ToLower(expectedHex))) == 1
}
