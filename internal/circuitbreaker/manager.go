package circuitbreaker

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/toolmeter/gateway/internal/config"
)

// ServiceType identifies an external hook for circuit-breaker isolation.
type ServiceType string

const (
	ServiceTeamChecker ServiceType = "team_checker"
	ServicePriceHook   ServiceType = "price_hook"
	ServiceWebhook     ServiceType = "webhook"
)

// Manager manages circuit breakers for the external hooks the Gate calls out
// to (team budget checker, price-transform plugin, webhook delivery). Each
// hook gets its own breaker so a degraded team-checker can't starve webhook
// delivery or vice versa.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	config   Config
}

// Config holds circuit breaker configuration for all hooks.
type Config struct {
	Enabled     bool
	TeamChecker BreakerConfig
	PriceHook   BreakerConfig
	Webhook     BreakerConfig
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManagerFromConfig creates a circuit breaker manager from application config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig) *Manager {
	return NewManager(Config{
		Enabled:     cfg.Enabled,
		TeamChecker: toBreakerConfig(cfg.TeamChecker),
		PriceHook:   toBreakerConfig(cfg.PriceHook),
		Webhook:     toBreakerConfig(cfg.Webhook),
	})
}

func toBreakerConfig(c config.BreakerServiceConfig) BreakerConfig {
	return BreakerConfig{
		MaxRequests:         c.MaxRequests,
		Interval:            c.Interval.Duration,
		Timeout:             c.Timeout.Duration,
		ConsecutiveFailures: c.ConsecutiveFailures,
		FailureRatio:        c.FailureRatio,
		MinRequests:         c.MinRequests,
	}
}

// NewManager creates a circuit breaker manager with the given configuration.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		config:   cfg,
	}

	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceTeamChecker] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceTeamChecker), cfg.TeamChecker))
	m.breakers[ServicePriceHook] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServicePriceHook), cfg.PriceHook))
	m.breakers[ServiceWebhook] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceWebhook), cfg.Webhook))

	return m
}

// Execute wraps a function call with circuit breaker protection. If circuit
// breakers are disabled or not configured for the service, it executes directly.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if !m.config.Enabled {
		return fn()
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}

	return breaker.Execute(fn)
}

// State returns the current state of a circuit breaker.
func (m *Manager) State(service ServiceType) string {
	if !m.config.Enabled {
		return "disabled"
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}
	return breaker.State().String()
}

// Counts returns the current counts for a circuit breaker.
func (m *Manager) Counts(service ServiceType) Counts {
	if !m.config.Enabled {
		return Counts{}
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return Counts{}
	}
	c := breaker.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Counts represents circuit breaker statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func toGobreakerSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
				if counts.Requests >= cfg.MinRequests {
					failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
					if failureRate >= cfg.FailureRatio {
						return true
					}
				}
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuitbreaker.state_change")
		},
	}
}

// DefaultConfig returns sensible defaults for circuit breaker configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		TeamChecker: BreakerConfig{
			MaxRequests:         3,
			Interval:            60 * time.Second,
			Timeout:             10 * time.Second,
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
		PriceHook: BreakerConfig{
			MaxRequests:         3,
			Interval:            60 * time.Second,
			Timeout:             5 * time.Second,
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
		Webhook: BreakerConfig{
			MaxRequests:         5,
			Interval:            60 * time.Second,
			Timeout:             60 * time.Second,
			ConsecutiveFailures: 10,
			FailureRatio:        0.7,
			MinRequests:         20,
		},
	}
}
