package auth

import (
	"context"
	"testing"
)

func TestIdentityContextRoundTrip(t *testing.T) {
	ctx := ContextWithIdentity(context.Background(), Identity{
		UserID: "user-1",
		Email:  "alice@example.com",
		Roles:  []string{"User", "Manager"},
	})

	id, ok := IdentityFromContext(ctx)
	if !ok {
		t.Fatalf("expected identity in context")
	}
	if id.UserID != "user-1" || id.Email != "alice@example.com" {
		t.Fatalf("unexpected identity: %+v", id)
	}

	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Fatalf("expected no identity in empty context")
	}
	if _, ok := IdentityFromContext(ContextWithIdentity(context.Background(), Identity{})); ok {
		t.Fatalf("expected identity without user id to be ignored")
	}
}

func TestHasRole(t *testing.T) {
	ctx := ContextWithIdentity(context.Background(), Identity{
		UserID: "user-1",
		Roles:  []string{"Manager"},
	})

	if !HasRole(ctx, "manager") {
		t.Fatalf("role comparison should be case-insensitive")
	}
	if HasRole(ctx, "Admin") {
		t.Fatalf("unexpected role")
	}
	if HasRole(ctx, "") {
		t.Fatalf("empty role must never match")
	}
}

func TestHasAnyRole(t *testing.T) {
	ctx := ContextWithIdentity(context.Background(), Identity{
		UserID: "user-1",
		Roles:  []string{"User"},
	})

	if !HasAnyRole(ctx, "Admin", "User") {
		t.Fatalf("expected OR semantics to match")
	}
	if HasAnyRole(ctx, "Admin", "Manager") {
		t.Fatalf("expected no match")
	}
	if HasAnyRole(ctx) {
		t.Fatalf("no required roles must not match")
	}
}
