// Package httpapi exposes the authentication and administration operations
// over JSON/HTTP, plus a gRPC health service.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/settings"
)

const serviceName = "gatehouse"

// ReadinessChecker reports whether the backing store is reachable.
type ReadinessChecker interface {
	Ping(ctx context.Context) error
}

// Services are the domain services the API dispatches to.
type Services struct {
	Auth     *auth.Service
	RBAC     *auth.RBACService
	Logs     *audit.Service
	Settings *settings.Service
	Recorder *audit.Recorder
}

type Options struct {
	Version        string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
	// TrustProxy rewrites RemoteAddr from forwarding headers before rate
	// limiting. Leave it off unless a proxy sets those headers.
	TrustProxy bool
}

// API is the HTTP layer.
type API struct {
	router   chi.Router
	auth     *auth.Service
	rbac     *auth.RBACService
	logs     *audit.Service
	settings *settings.Service
	recorder *audit.Recorder
	ready    ReadinessChecker
	limiter  *ipLimiter
	opts     Options
}

func New(svc Services, ready ReadinessChecker, opts Options) (*API, error) {
	if svc.Auth == nil || svc.RBAC == nil || svc.Logs == nil || svc.Settings == nil {
		return nil, errors.New("httpapi: auth, rbac, log and settings services are required")
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 1
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 5
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		auth:     svc.Auth,
		rbac:     svc.RBAC,
		logs:     svc.Logs,
		settings: svc.Settings,
		recorder: svc.Recorder,
		ready:    ready,
		limiter:  newIPLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		opts:     opts,
	}
	a.router = a.routes()
	return a, nil
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	if a.opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(RequestID)
	r.Use(LoggingJSON)
	r.Use(middleware.Recoverer)
	r.Use(instrument)
	r.Use(SecurityHeaders)
	if len(a.opts.CORSOrigins) > 0 {
		r.Use(corsHandler(a.opts.CORSOrigins))
	}
	r.Use(MaxBodyBytes(a.opts.MaxBodyBytes))
	r.Use(a.authenticate)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	for _, op := range a.operations() {
		var h http.Handler = a.serve(op)
		if op.rateLimited {
			h = a.limiter.Middleware(h)
		}
		r.Method(op.method, op.pattern, h)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler returns the fully wrapped router.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready.Ping(ctx); err != nil {
			obs.FromContext(r.Context()).Warn("readiness_failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := obs.RequestID(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// fail maps domain errors onto HTTP statuses. Server errors never leak detail.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", `Bearer realm="`+serviceName+`"`)
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, audit.ErrInvalidFilter):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		obs.FromContext(r.Context()).Error("request_failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
