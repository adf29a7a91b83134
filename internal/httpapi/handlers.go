package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"opsdesk.org/internal/auth"
	"opsdesk.org/internal/obs"
)

// ReadyProbe reports whether the backing store is reachable.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the auth and admin services.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	admin      *auth.Admin
	tokens     *auth.Tokens
	readyProbe ReadyProbe
	version    string

	maxBodyBytes int64
	rateBurst    int
	ratePerSec   int
}

// Option configures the API.
type Option func(*API)

// WithRateLimit overrides the per-IP token bucket parameters.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 {
			a.rateBurst = burst
		}
		if perSecond > 0 {
			a.ratePerSec = perSecond
		}
	}
}

// WithMaxBodyBytes overrides the request body size limit.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func New(rp ReadyProbe, version string, svc *auth.Service, admin *auth.Admin, tokens *auth.Tokens, opts ...Option) *API {
	a := &API{
		mux:          http.NewServeMux(),
		svc:          svc,
		admin:        admin,
		tokens:       tokens,
		readyProbe:   rp,
		version:      version,
		maxBodyBytes: 1 << 20,
		rateBurst:    20,
		ratePerSec:   10,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/auth/register", a.Register)
	a.mux.HandleFunc("/v1/auth/login", a.Login)
	a.mux.HandleFunc("/v1/auth/request-password-reset", a.RequestPasswordReset)
	a.mux.HandleFunc("/v1/auth/reset-password", a.ResetPassword)
	a.mux.HandleFunc("/v1/auth/change-password", a.ChangePassword)
	a.mux.HandleFunc("/v1/auth/me", a.Me)

	// directory administration
	a.mux.HandleFunc("/v1/departments", a.Departments)
	a.mux.HandleFunc("/v1/roles", a.Roles)
	a.mux.HandleFunc("/v1/roles/", a.RoleSubresource)
	a.mux.HandleFunc("/v1/users/", a.UserSubresource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "opsdesk-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "opsdesk-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
