package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinichain/clinichain/internal/auth"
	"github.com/clinichain/clinichain/internal/middleware"
)

// RouterConfig collects the handlers and cross-cutting dependencies the
// router wires together.
type RouterConfig struct {
	Entries *EntryHandlers
	Verify  *VerifyHandlers
	Runs    *RunHandlers
	Admin   *AdminHandlers
	WS      *WSHandlers
	Health  *HealthHandlers

	JWTService *auth.JWTService
	Registry   *prometheus.Registry

	Logger      *slog.Logger
	HTTPMetrics *middleware.Metrics
	CORS        middleware.CORSConfig
	ServiceName string
}

// NewRouter builds the HTTP handler for the audit trail service, with the
// full middleware chain applied to every route.
//
// Read endpoints require the audit:read scope, the admin surface
// requires audit:admin, and the append endpoint is reachable with either.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	requireRead := middleware.RequireScope(cfg.JWTService, auth.ScopeRead)
	requireAdmin := middleware.RequireScope(cfg.JWTService, auth.ScopeAdmin)

	// Audit entries.
	mux.Handle("POST /v1/chains/{chain_id}/entries", requireRead(http.HandlerFunc(cfg.Entries.Append)))
	mux.Handle("GET /v1/chains/{chain_id}/entries", requireRead(http.HandlerFunc(cfg.Entries.List)))

	// Verification.
	mux.Handle("POST /v1/verify", requireAdmin(http.HandlerFunc(cfg.Verify.Full)))
	mux.Handle("POST /v1/verify/incremental", requireAdmin(http.HandlerFunc(cfg.Verify.Incremental)))

	// Run history.
	mux.Handle("GET /v1/runs", requireRead(http.HandlerFunc(cfg.Runs.List)))
	mux.Handle("GET /v1/runs/ws", requireRead(http.HandlerFunc(cfg.WS.Runs)))

	// Secret administration.
	mux.Handle("POST /v1/admin/secrets", requireAdmin(http.HandlerFunc(cfg.Admin.AddSecret)))
	mux.Handle("PUT /v1/admin/secrets/default", requireAdmin(http.HandlerFunc(cfg.Admin.SetDefault)))

	// Probes and metrics are unauthenticated.
	mux.HandleFunc("GET /healthz", cfg.Health.Health)
	mux.HandleFunc("GET /ready", cfg.Health.Ready)
	if cfg.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Not found")
	})

	var handler http.Handler = mux
	handler = middleware.CORS(cfg.CORS)(handler)
	if cfg.HTTPMetrics != nil {
		handler = middleware.HTTPMetrics(cfg.HTTPMetrics)(handler)
	}
	handler = middleware.Logging(cfg.Logger)(handler)
	handler = middleware.Tracing(cfg.ServiceName)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
