// Package httptransport is the HTTP/JSON-RPC boundary named as an external
// collaborator in spec.md §6: it decodes requests, extracts the API key and
// tool name, and invokes Gate.Evaluate/EvaluateBatch, then maps the
// resulting Decision onto JSON-RPC 2.0 responses (and an x402-style
// payment-error data block for payment denials: insufficient credits and
// spending limit). It also
// exposes an admin surface for key/reservation/DLQ management, grounded on
// the teacher's internal/httpserver + internal/httphandlers packages.
package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/toolmeter/gateway/internal/config"
	"github.com/toolmeter/gateway/internal/gate"
	"github.com/toolmeter/gateway/internal/httplimiter"
	"github.com/toolmeter/gateway/internal/idempotency"
	"github.com/toolmeter/gateway/internal/keystore"
	"github.com/toolmeter/gateway/internal/logger"
	"github.com/toolmeter/gateway/internal/metrics"
	"github.com/toolmeter/gateway/internal/tenant"
	"github.com/toolmeter/gateway/internal/webhook"
)

// Server wires handlers, middleware, and dependencies into an *http.Server.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg              *config.Config
	gate             *gate.Gate
	store            *keystore.KeyStore
	webhookDLQ       webhook.DLQStore
	idempotencyStore idempotency.Store
	metrics          *metrics.Metrics
	logger           zerolog.Logger
}

// New builds the HTTP server with a configured router.
func New(cfg *config.Config, g *gate.Gate, store *keystore.KeyStore, dlq webhook.DLQStore, idempotencyStore idempotency.Store, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:              cfg,
			gate:             g,
			store:            store,
			webhookDLQ:       dlq,
			idempotencyStore: idempotencyStore,
			metrics:          metricsCollector,
			logger:           appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, g, store, dlq, idempotencyStore, metricsCollector, appLogger)

	return s
}

// exemptKeySet converts the config's slice form into httplimiter's set form.
func exemptKeySet(keys []string) map[string]bool {
	if len(keys) == 0 {
		return nil
	}
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// ConfigureRouter attaches every gateway route to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, g *gate.Gate, store *keystore.KeyStore, dlq webhook.DLQStore, idempotencyStore idempotency.Store, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) {
	if router == nil {
		return
	}

	h := handlers{
		cfg:              cfg,
		gate:             g,
		store:            store,
		webhookDLQ:       dlq,
		idempotencyStore: idempotencyStore,
		metrics:          metricsCollector,
		logger:           appLogger,
	}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"X-Request-ID", "X-PAYMENT-RESPONSE"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(tenant.Extraction)

	limiterCfg := httplimiter.Config{
		GlobalEnabled: cfg.HTTPLimiter.GlobalEnabled,
		GlobalLimit:   cfg.HTTPLimiter.GlobalLimit,
		GlobalWindow:  cfg.HTTPLimiter.GlobalWindow.Duration,
		PerKeyEnabled: cfg.HTTPLimiter.PerKeyEnabled,
		PerKeyLimit:   cfg.HTTPLimiter.PerKeyLimit,
		PerKeyWindow:  cfg.HTTPLimiter.PerKeyWindow.Duration,
		PerIPEnabled:  cfg.HTTPLimiter.PerIPEnabled,
		PerIPLimit:    cfg.HTTPLimiter.PerIPLimit,
		PerIPWindow:   cfg.HTTPLimiter.PerIPWindow.Duration,
		ExemptKeys:    exemptKeySet(cfg.HTTPLimiter.ExemptKeys),
		Metrics:       metricsCollector,
	}
	router.Use(httplimiter.GlobalLimiter(limiterCfg))
	router.Use(httplimiter.KeyLimiter(limiterCfg))
	router.Use(httplimiter.IPLimiter(limiterCfg))

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints: health/metrics, short timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/health", h.health)
		r.With(adminAuth(cfg.Server.AdminBootstrapKey)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Tool-call evaluation endpoint: bounded by the gate's own per-call
	// hook timeout plus headroom, not the admin write timeout below.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Post(prefix+"/mcp", h.handleMCP)
	})

	// Admin surface: key/reservation/DLQ management, idempotency-protected
	// on the mutating routes, same as the teacher protects payment-session
	// creation from retried double-submits.
	idempotencyMW := idempotency.Middleware(idempotencyStore, 24*time.Hour)
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Use(adminAuth(cfg.Server.AdminBootstrapKey))

		r.With(idempotencyMW).Post(prefix+"/admin/keys", h.createKey)
		r.Get(prefix+"/admin/keys", h.listKeys)
		r.Get(prefix+"/admin/keys/{key}", h.getKey)
		r.Post(prefix+"/admin/keys/{key}/revoke", h.revokeKey)
		r.Post(prefix+"/admin/keys/{key}/suspend", h.suspendKey)
		r.Post(prefix+"/admin/keys/{key}/unsuspend", h.unsuspendKey)
		r.With(idempotencyMW).Post(prefix+"/admin/keys/{key}/credits", h.addCredits)

		r.With(idempotencyMW).Post(prefix+"/admin/reservations", h.createReservation)
		r.Get(prefix+"/admin/reservations/{id}", h.getReservation)
		r.Post(prefix+"/admin/reservations/{id}/settle", h.settleReservation)
		r.Post(prefix+"/admin/reservations/{id}/release", h.releaseReservation)
		r.Get(prefix+"/admin/reservations/stats", h.reservationStats)

		r.Get(prefix+"/admin/usage/summary", h.usageSummary)
		r.Get(prefix+"/admin/usage/export", h.usageExport)

		r.Get(prefix+"/admin/webhooks/dlq", h.listDLQ)
		r.Post(prefix+"/admin/webhooks/dlq/{id}/delete", h.deleteDLQEntry)

		r.Get(prefix+"/admin/concurrency", h.concurrencySnapshot)
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
