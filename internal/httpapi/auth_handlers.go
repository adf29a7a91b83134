package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/auth"
	"opsdesk.org/internal/obs"
)

type registerRequest struct {
	FirstName    string   `json:"first_name"`
	LastName     string   `json:"last_name"`
	Email        string   `json:"email"`
	Password     string   `json:"password"`
	DepartmentID string   `json:"department_id"`
	RoleIDs      []string `json:"role_ids"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	User      auth.PublicUser `json:"user"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type resetConfirmRequest struct {
	Email       string `json:"email"`
	Secret      string `json:"secret"`
	NewPassword string `json:"new_password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.svc.Register(r.Context(), auth.RegistrationInput{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		Password:     req.Password,
		DepartmentID: req.DepartmentID,
		RoleIDs:      req.RoleIDs,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.user.registered", map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrRateLimited):
			obs.ObserveLogin("throttled")
		case errors.Is(err, auth.ErrInvalidCredentials):
			// Bad credentials are a rejected request, not a challenge: 400
			// with the same generic message whether the account exists or
			// the password was wrong.
			obs.ObserveLogin("failure")
			writeError(w, r, http.StatusBadRequest, trimKind(err))
			return
		case errors.Is(err, auth.ErrUnauthenticated):
			obs.ObserveLogin("failure")
		default:
			obs.ObserveLogin("error")
		}
		handleAuthError(w, r, err)
		return
	}

	obs.ObserveLogin("success")
	_ = audit.LogEvent(r.Context(), "auth.login.succeeded", map[string]any{
		"user_id": result.User.ID,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		User:      result.User,
	})
}

// RequestPasswordReset acknowledges every well-formed request with the same
// body and status, whether or not the email names an account.
func (a *API) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		handleAuthError(w, r, err)
		return
	}
	obs.ObserveResetRequest()
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "if the account exists, reset instructions have been sent",
	})
}

func (a *API) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req resetConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.svc.ConfirmPasswordReset(r.Context(), req.Email, req.Secret, req.NewPassword); err != nil {
		obs.ObserveResetConfirm("failure")
		handleAuthError(w, r, err)
		return
	}

	obs.ObserveResetConfirm("success")
	_ = audit.LogEvent(r.Context(), "auth.password.reset", map[string]any{
		"email": req.Email,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "password updated",
	})
}

func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="opsdesk"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.svc.ChangePassword(r.Context(), id.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.password.changed", nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "password updated",
	})
}

// Me returns the caller's profile with roles and permissions resolved fresh
// from the Directory rather than echoed from the token.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="opsdesk"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	principal, err := a.svc.Principal(r.Context(), id.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="opsdesk"`)
			writeError(w, r, http.StatusUnauthorized, "account no longer exists")
			return
		}
		handleAuthError(w, r, err)
		return
	}

	perms := make([]string, 0, len(principal.Permissions))
	for k := range principal.Permissions {
		perms = append(perms, k)
	}
	sort.Strings(perms)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        principal.User.Public(principal.RoleNames()),
		"permissions": perms,
	})
}
