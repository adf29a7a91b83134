package auth

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. The HTTP layer performs a single exhaustive mapping
// from these to status codes; everything the service returns wraps one of
// them.
var (
	ErrInvalidInput    = errors.New("auth: invalid input")
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: forbidden")
	ErrNotFound        = errors.New("auth: not found")
	ErrConflict        = errors.New("auth: conflict")
	ErrRateLimited     = errors.New("auth: rate limited")
	ErrInternal        = errors.New("auth: internal error")
)

// ErrInvalidToken covers a missing, malformed, expired, or tampered token.
var ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthenticated)

// ErrInvalidCredentials is the single message for both unknown-account and
// wrong-password login failures, so callers cannot tell them apart.
var ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)
