package auth

import (
	"encoding/base64"
	"testing"
)

func TestNewResetSecret(t *testing.T) {
	secret, digest, err := NewResetSecret()
	if err != nil {
		t.Fatalf("NewResetSecret: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(secret)
	if err != nil {
		t.Fatalf("secret is not base64url: %v", err)
	}
	if len(raw) != 32 {
		t.Fatalf("expected 32 bytes of entropy, got %d", len(raw))
	}
	if digest != HashResetSecret(secret) {
		t.Fatalf("digest does not match secret")
	}

	other, _, err := NewResetSecret()
	if err != nil {
		t.Fatalf("NewResetSecret: %v", err)
	}
	if other == secret {
		t.Fatalf("expected distinct secrets")
	}
}

func TestVerifyResetSecret(t *testing.T) {
	secret, digest, err := NewResetSecret()
	if err != nil {
		t.Fatalf("NewResetSecret: %v", err)
	}
	if !VerifyResetSecret(digest, secret) {
		t.Fatalf("expected matching secret to verify")
	}
	if VerifyResetSecret(digest, secret+"x") {
		t.Fatalf("expected tampered secret to fail")
	}
	if VerifyResetSecret("", secret) {
		t.Fatalf("expected empty digest to fail")
	}
}
