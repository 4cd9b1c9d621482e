package httptransport

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/toolmeter/gateway/internal/circuitbreaker"
	"github.com/toolmeter/gateway/internal/config"
	"github.com/toolmeter/gateway/internal/gate"
	"github.com/toolmeter/gateway/internal/keystore"
	"github.com/toolmeter/gateway/internal/metrics"
	"github.com/toolmeter/gateway/internal/observability"
	"github.com/toolmeter/gateway/internal/ratelimiter"
	"github.com/toolmeter/gateway/internal/reservation"
	"github.com/toolmeter/gateway/internal/toolpricing"
	"github.com/toolmeter/gateway/internal/usage"
	"github.com/toolmeter/gateway/internal/webhook"

	"github.com/prometheus/client_golang/prometheus"
)

// newTestHandlers assembles a handlers instance wired to real, in-memory
// collaborators, the way the teacher's own handler tests construct a bare
// &handlers{} with just the fields a given test exercises.
func newTestHandlers() (*handlers, *keystore.KeyStore) {
	logger := zerolog.New(io.Discard)

	store := keystore.New(logger)
	limiter := ratelimiter.New(600, 0)
	pricing := toolpricing.NewYAMLRepository(map[string]config.ToolPrice{
		"echo": {CreditsPerCall: 2},
	})
	reservations := reservation.New(store, 0)
	meter := usage.New(usage.DefaultCapacity)
	metricsCollector := metrics.New(prometheus.NewRegistry())
	registry := observability.NewRegistry(logger)
	breaker := circuitbreaker.NewManagerFromConfig(config.CircuitBreakerConfig{})

	g := gate.New(store, limiter, pricing, nil, reservations, meter, metricsCollector, registry, breaker, logger, gate.Config{
		DefaultCreditsPerCall: 1,
	})

	cfg := &config.Config{
		Server: config.ServerConfig{
			TopUpURL:   "https://example.com/topup",
			PricingURL: "https://example.com/pricing",
		},
	}

	h := &handlers{
		cfg:        cfg,
		gate:       g,
		store:      store,
		webhookDLQ: webhook.NoopDLQStore{},
		metrics:    metricsCollector,
		logger:     logger,
	}
	return h, store
}
