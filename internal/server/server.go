// Package server implements the HTTP transport layer for the farebox gateway.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gateway "github.com/farebox-io/farebox/internal"
	"github.com/farebox-io/farebox/internal/accesslog"
	"github.com/farebox-io/farebox/internal/pricing"
	"github.com/farebox-io/farebox/internal/provider"
	"github.com/farebox-io/farebox/internal/proxy"
	"github.com/farebox-io/farebox/internal/ratelimit"
	"github.com/farebox-io/farebox/internal/storage"
	"github.com/farebox-io/farebox/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// TokenCounter estimates token counts for raw request bodies.
type TokenCounter interface {
	EstimateRequest(body []byte) int
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth      gateway.Authenticator
	Pipeline  *proxy.Pipeline
	Providers *provider.Registry
	Pricing   *pricing.Registry

	AccessLog *accesslog.Emitter // nil = no access logging
	Metrics   *telemetry.Metrics // nil = no metrics
	PromGath  prometheus.Gatherer

	RateLimiter  *ratelimit.Registry // nil = no rate limiting
	TokenCounter TokenCounter        // nil = fixed estimate
	Limits       ratelimit.Limits

	Ledger     storage.LedgerStore // nil = admin billing routes return 503
	ReadyCheck ReadyChecker        // nil = always ready (for tests)

	AdminKey          string
	PaymentKitEnabled bool
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-LLM-Provider", "X-Client-Tx-Ref"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	r.Use(s.accessLogging)

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.PromGath != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.PromGath, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/admin", func(r chi.Router) {
			r.Get("/health", s.handleHealth)

			r.Group(func(r chi.Router) {
				r.Use(s.adminOnly)
				r.Get("/config", s.handleAdminConfig)
				r.Get("/billing/records", s.handleBillingRecords)
				r.Get("/billing/summary", s.handleBillingSummary)
				r.Get("/billing/balance", s.handleBillingBalance)
				r.Post("/billing/cleanup", s.handleBillingCleanup)
			})
		})

		// LLM proxy surface (auth required). Everything under /api/v1/* that
		// is not an admin route goes through the pipeline.
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Use(s.rateLimit)
			for _, m := range []string{http.MethodGet, http.MethodPost,
				http.MethodPut, http.MethodPatch, http.MethodDelete} {
				r.MethodFunc(m, "/*", s.handleProxy)
			}
		})
	})

	return r
}

type server struct {
	deps Deps
}
