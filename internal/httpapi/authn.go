package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"opsdesk.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/request-password-reset",
	"/v1/auth/reset-password",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

// withAuth verifies the bearer token on every non-public route and attaches
// the resulting identity to the request context. Verification is pure token
// computation; no storage is consulted here.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="opsdesk"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.tokens.Verify(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="opsdesk", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), auth.Identity{
			UserID: claims.Subject,
			Email:  claims.Email,
			Roles:  claims.Roles,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole enforces OR semantics over the roles carried by the token.
func requireRole(next http.Handler, roles ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.IdentityFromContext(r.Context()); !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="opsdesk"`)
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		if !auth.HasAnyRole(r.Context(), roles...) {
			writeError(w, r, http.StatusForbidden, "insufficient role")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ensurePermission resolves the caller's principal fresh from the Directory
// and checks the permission. It writes the error response itself and reports
// whether the handler may proceed.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, perm string) bool {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="opsdesk"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if _, err := a.svc.Require(r.Context(), id.UserID, perm); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			// The token outlived the account.
			w.Header().Set("WWW-Authenticate", `Bearer realm="opsdesk"`)
			writeError(w, r, http.StatusUnauthorized, "account no longer exists")
			return false
		}
		handleAuthError(w, r, err)
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
