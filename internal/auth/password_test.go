package auth

import (
	"strings"
	"testing"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("Sup3rSecret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "Sup3rSecret" {
		t.Fatalf("hash must not equal plaintext")
	}
	if err := VerifyPassword(hash, "Sup3rSecret"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := VerifyPassword(hash, "sup3rsecret"); err == nil {
		t.Fatalf("expected mismatch for wrong password")
	}
}

func TestHashPasswordSaltsEachCall(t *testing.T) {
	a, err := HashPassword("Sup3rSecret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	b, err := HashPassword("Sup3rSecret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct digests for repeated hashing")
	}
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	if err := VerifyPassword("not-a-bcrypt-digest", "whatever"); err == nil {
		t.Fatalf("expected error for malformed digest")
	}
	if err := VerifyPassword("", "whatever"); err == nil {
		t.Fatalf("expected error for empty digest")
	}
}

func TestCompareDummyDoesNotPanic(t *testing.T) {
	CompareDummy("anything")
	CompareDummy("")
}

func TestValidatePasswordStrength(t *testing.T) {
	cases := []struct {
		name     string
		password string
		ok       bool
	}{
		{"valid", "Abcdef12", true},
		{"too short", "Ab1", false},
		{"no upper", "abcdef12", false},
		{"no lower", "ABCDEF12", false},
		{"no digit", "Abcdefgh", false},
		{"long valid", strings.Repeat("Ab1", 20), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePasswordStrength(tc.password, 8)
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected policy violation")
			}
		})
	}
}
