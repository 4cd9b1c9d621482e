// Package gateway wires every gateway component into a single App for
// embedding or standalone serving, the way the teacher's pkg/cedros wires
// its paywall services.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toolmeter/gateway/internal/circuitbreaker"
	"github.com/toolmeter/gateway/internal/concurrency"
	"github.com/toolmeter/gateway/internal/config"
	"github.com/toolmeter/gateway/internal/gate"
	"github.com/toolmeter/gateway/internal/httptransport"
	"github.com/toolmeter/gateway/internal/idempotency"
	"github.com/toolmeter/gateway/internal/keystore"
	"github.com/toolmeter/gateway/internal/lifecycle"
	"github.com/toolmeter/gateway/internal/logger"
	"github.com/toolmeter/gateway/internal/metrics"
	"github.com/toolmeter/gateway/internal/observability"
	"github.com/toolmeter/gateway/internal/ratelimiter"
	"github.com/toolmeter/gateway/internal/redissync"
	"github.com/toolmeter/gateway/internal/reservation"
	"github.com/toolmeter/gateway/internal/team"
	"github.com/toolmeter/gateway/internal/toolpricing"
	"github.com/toolmeter/gateway/internal/usage"
	"github.com/toolmeter/gateway/internal/webhook"
)

// App assembles the gateway's components for reuse or standalone serving.
type App struct {
	Config   *config.Config
	Store    *keystore.KeyStore
	Gate     *gate.Gate
	Webhook  *webhook.Client
	Metrics  *metrics.Metrics
	Registry *observability.Registry

	router          chi.Router
	resourceManager *lifecycle.Manager
	logger          zerolog.Logger
	idempotency     idempotency.Store
	dlq             webhook.DLQStore
	publisher       *redissync.Publisher
	subscriber      *redissync.Subscriber
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store chi.Router
}

// WithRouter allows callers to provide an existing chi.Router to register
// routes onto, for embedding the gateway inside a larger service.
func WithRouter(router chi.Router) Option {
	return func(o *options) { o.store = router }
}

// NewApp assembles every gateway component from cfg.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("gateway: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "toolmeter-gateway",
		Environment: cfg.Logging.Environment,
	})

	app := &App{
		Config:          cfg,
		logger:          appLogger,
		resourceManager: lifecycle.NewManager(),
	}

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)
	app.Metrics = metricsCollector

	registry := observability.NewRegistry(appLogger)
	registry.RegisterUsageHook(observability.NewPrometheusHook(metricsCollector))
	app.Registry = registry

	store, err := buildKeyStore(cfg.Storage, appLogger)
	if err != nil {
		return nil, fmt.Errorf("gateway: keystore: %w", err)
	}
	app.Store = store

	limiter := ratelimiter.New(cfg.RateLimit.DefaultLimit, cfg.RateLimit.GCInterval.Duration)

	pricing, err := toolpricing.New(cfg.ToolPricing)
	if err != nil {
		return nil, fmt.Errorf("gateway: tool pricing: %w", err)
	}

	teamRepo, err := team.New(cfg.Team)
	if err != nil {
		return nil, fmt.Errorf("gateway: team budgets: %w", err)
	}

	reservations := reservation.New(store, cfg.Reservation.SweepInterval.Duration)
	reservations.SetRegistry(registry)

	meter := usage.New(usage.DefaultCapacity)

	breaker := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	g := gate.New(store, limiter, pricing, teamRepo, reservations, meter, metricsCollector, registry, breaker, appLogger, gate.Config{
		DefaultCreditsPerCall: 1,
		GlobalQuota: keystore.QuotaLimits{
			DailyCalls:     cfg.Quota.GlobalDailyCallLimit,
			DailyCredits:   cfg.Quota.GlobalDailyCreditLimit,
			MonthlyCalls:   cfg.Quota.GlobalMonthlyCallLimit,
			MonthlyCredits: cfg.Quota.GlobalMonthlyCreditLimit,
		},
		GlobalRateLimitPerMin: cfg.RateLimit.DefaultLimit,
	})
	app.Gate = g

	if cfg.Concurrency.DefaultMaxInflight > 0 {
		g.SetConcurrencyLimiter(concurrency.New(cfg.Concurrency.DefaultMaxInflight, cfg.Concurrency.DefaultMaxInflight))
	}

	if cfg.RateLimit.Backend == "redis" && cfg.Redis.URL != "" {
		redisLimiter, err := ratelimiter.NewRedisLimiter(cfg.Redis.URL, appLogger)
		if err != nil {
			return nil, fmt.Errorf("gateway: redis rate limiter: %w", err)
		}
		g.SetRedisLimiter(redisLimiter)
	}

	if cfg.Redis.SyncEnabled && cfg.Redis.URL != "" {
		publisher, err := redissync.NewPublisher(cfg.Redis.URL, cfg.Redis.SyncChannel, appLogger)
		if err != nil {
			return nil, fmt.Errorf("gateway: redis sync publisher: %w", err)
		}
		app.publisher = publisher
		app.resourceManager.RegisterFunc("redis-publisher", publisher.Close)
		g.SetOnCreditsDeducted(func(key string, amount int64) {
			if balance, ok := store.GetBalance(key); ok {
				publisher.PublishBalance(context.Background(), key, balance)
			}
		})
		g.SetOnAutoTopup(func(key, _ string, _ int64, newBalance int64) {
			publisher.PublishBalance(context.Background(), key, newBalance)
		})

		subscriber, err := redissync.NewSubscriber(cfg.Redis.URL, cfg.Redis.SyncChannel, store, publisher.InstanceID(), appLogger)
		if err != nil {
			return nil, fmt.Errorf("gateway: redis sync subscriber: %w", err)
		}
		app.subscriber = subscriber
		app.resourceManager.RegisterFunc("redis-subscriber", subscriber.Close)
		go subscriber.Start(context.Background())
	}

	dlq := buildDLQStore(cfg.Webhook)
	app.dlq = dlq

	webhookClient := webhook.NewClient(cfg.Webhook,
		webhook.WithLogger(appLogger),
		webhook.WithMetrics(metricsCollector),
		webhook.WithRegistry(registry),
		webhook.WithBreaker(breaker),
		webhook.WithDLQ(dlq),
	)
	app.Webhook = webhookClient
	if webhookClient != nil {
		g.SetOnUsageEvent(func(event usage.Event) {
			webhookClient.Enqueue(webhook.UsageEvent{
				Timestamp:      event.Timestamp,
				APIKey:         event.APIKey,
				KeyName:        event.KeyName,
				Tool:           event.Tool,
				CreditsCharged: event.CreditsCharged,
				Allowed:        event.Allowed,
				DenyReason:     event.DenyReason,
				Namespace:      event.Namespace,
			})
		})
		app.resourceManager.RegisterFunc("webhook-client", func() error {
			webhookClient.Close()
			return nil
		})
	}

	idempotencyStore := idempotency.NewMemoryStore()
	app.idempotency = idempotencyStore
	app.resourceManager.RegisterFunc("idempotency", func() error {
		idempotencyStore.Stop()
		return nil
	})

	if optState.store != nil {
		app.router = optState.store
	} else {
		app.router = chi.NewRouter()
	}

	httptransport.ConfigureRouter(app.router, cfg, g, store, dlq, app.idempotency, metricsCollector, appLogger)

	return app, nil
}

// buildKeyStore constructs the key store from cfg.Storage. "postgres" is
// accepted by config validation but has no KeyStore-backed implementation
// yet (see DESIGN.md); it falls back to the file backend when a path is
// configured, or memory otherwise.
func buildKeyStore(cfg config.StorageConfig, appLogger zerolog.Logger) (*keystore.KeyStore, error) {
	switch cfg.Backend {
	case "file":
		return keystore.NewFile(cfg.FilePath, cfg.FlushInterval.Duration, appLogger)
	case "postgres":
		if cfg.FilePath != "" {
			log.Warn().Msg("gateway: postgres storage backend not implemented, falling back to file backend")
			return keystore.NewFile(cfg.FilePath, cfg.FlushInterval.Duration, appLogger)
		}
		log.Warn().Msg("gateway: postgres storage backend not implemented, falling back to in-memory keystore")
		return keystore.New(appLogger), nil
	default:
		return keystore.New(appLogger), nil
	}
}

func buildDLQStore(cfg config.WebhookConfig) webhook.DLQStore {
	if !cfg.DLQEnabled {
		return webhook.NoopDLQStore{}
	}
	if cfg.DLQPath != "" {
		store, err := webhook.NewFileDLQStore(cfg.DLQPath)
		if err == nil {
			return store
		}
		log.Error().Err(err).Msg("gateway: failed to open file DLQ store, falling back to memory")
	}
	return webhook.NewMemoryDLQStore()
}

// Router returns the chi router with gateway routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Close releases every resource the app owns (keystore, limiters,
// reservations, webhook client, gate).
func (a *App) Close() error {
	if a.Gate != nil {
		_ = a.Gate.Destroy()
	}
	return a.resourceManager.Close()
}

// LoadConfig wraps the internal loader for consumers embedding the gateway.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
