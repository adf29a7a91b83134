package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password using bcrypt with a random salt,
// so repeated calls produce different digests.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored digest. A
// mismatch is an error from bcrypt, not a panic; a malformed digest also
// surfaces as an error.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

var (
	dummyOnce   sync.Once
	dummyDigest string
)

// CompareDummy burns a bcrypt-verify-shaped amount of work against a digest
// of random data. Login calls it when the account does not exist so the
// unknown-user and wrong-password branches take comparable time.
func CompareDummy(password string) {
	dummyOnce.Do(func() {
		var b [24]byte
		_, _ = rand.Read(b[:])
		h, err := bcrypt.GenerateFromPassword([]byte(base64.RawStdEncoding.EncodeToString(b[:])), bcrypt.DefaultCost)
		if err == nil {
			dummyDigest = string(h)
		}
	})
	if dummyDigest == "" {
		return
	}
	_ = bcrypt.CompareHashAndPassword([]byte(dummyDigest), []byte(password))
}

// ValidatePasswordStrength enforces the password policy: minimum length plus
// at least one uppercase letter, one lowercase letter, and one digit.
func ValidatePasswordStrength(password string, minLength int) error {
	if len(password) < minLength {
		return errors.New("password too short")
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return errors.New("password must contain an uppercase letter, a lowercase letter, and a digit")
	}
	return nil
}
