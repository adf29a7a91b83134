package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// NewResetSecret generates a high-entropy reset secret and the digest stored
// in its ticket. Only the digest is persisted; the plaintext goes to the
// out-of-band dispatcher.
func NewResetSecret() (secret, digest string, err error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", "", fmt.Errorf("%w: generate reset secret: %v", ErrInternal, err)
	}
	secret = base64.RawURLEncoding.EncodeToString(b[:])
	return secret, HashResetSecret(secret), nil
}

// HashResetSecret returns the stored digest for a reset secret.
func HashResetSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// VerifyResetSecret compares a candidate secret against a stored digest in
// constant time.
func VerifyResetSecret(digest, secret string) bool {
	actual := HashResetSecret(secret)
	if len(digest) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(digest), []byte(actual)) == 1
}
