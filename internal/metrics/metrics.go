package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Evaluation/gate metrics
	EvaluationsTotal  *prometheus.CounterVec
	DenialsTotal      *prometheus.CounterVec
	EvaluationLatency *prometheus.HistogramVec

	// Credit metrics
	CreditsChargedTotal  *prometheus.CounterVec
	CreditsRefundedTotal *prometheus.CounterVec
	AutoTopupsTotal      *prometheus.CounterVec
	BalanceGauge         *prometheus.GaugeVec

	// Rate limit / quota metrics
	RateLimitHitsTotal *prometheus.CounterVec
	QuotaHitsTotal     *prometheus.CounterVec
	TeamBudgetHitsTotal *prometheus.CounterVec

	// Reservation metrics
	ReservationsHeldTotal     *prometheus.CounterVec
	ReservationsSettledTotal  *prometheus.CounterVec
	ReservationsReleasedTotal *prometheus.CounterVec
	ReservationsExpiredTotal  prometheus.Counter
	ReservationsOutstanding   prometheus.Gauge

	// Concurrency metrics
	ConcurrencyRejectionsTotal *prometheus.CounterVec
	InflightGauge              *prometheus.GaugeVec

	// Webhook metrics
	WebhooksTotal       *prometheus.CounterVec
	WebhookRetriesTotal *prometheus.CounterVec
	WebhookDLQTotal     *prometheus.CounterVec
	WebhookDuration     *prometheus.HistogramVec

	// Persistence metrics
	PersistenceFlushDuration *prometheus.HistogramVec
	PersistenceErrorsTotal   *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		EvaluationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_evaluations_total",
				Help: "Total number of gate evaluations by tool and outcome",
			},
			[]string{"tool", "allowed"},
		),
		DenialsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_denials_total",
				Help: "Total number of denied evaluations by reason",
			},
			[]string{"reason"},
		),
		EvaluationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_evaluation_duration_seconds",
				Help:    "Time taken to evaluate a call through the gate (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
			},
			[]string{"tool"},
		),

		CreditsChargedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_credits_charged_total",
				Help: "Total credits charged by tool",
			},
			[]string{"tool"},
		),
		CreditsRefundedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_credits_refunded_total",
				Help: "Total credits refunded by tool",
			},
			[]string{"tool"},
		),
		AutoTopupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_auto_topups_total",
				Help: "Total number of auto-topup events",
			},
			[]string{"key_name"},
		),
		BalanceGauge: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_key_balance_credits",
				Help: "Current credit balance for a key (updated on deduction/topup)",
			},
			[]string{"key_name"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limit_hits_total",
				Help: "Total number of rate limit denials",
			},
			[]string{"scope"},
		),
		QuotaHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_quota_hits_total",
				Help: "Total number of quota exceeded denials",
			},
			[]string{"period", "kind"},
		),
		TeamBudgetHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_team_budget_hits_total",
				Help: "Total number of team budget exceeded denials",
			},
			[]string{"team"},
		),

		ReservationsHeldTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_reservations_held_total",
				Help: "Total number of credit reservations created",
			},
			[]string{"tool"},
		),
		ReservationsSettledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_reservations_settled_total",
				Help: "Total number of credit reservations settled",
			},
			[]string{"tool"},
		),
		ReservationsReleasedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_reservations_released_total",
				Help: "Total number of credit reservations released",
			},
			[]string{"tool"},
		),
		ReservationsExpiredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_reservations_expired_total",
				Help: "Total number of credit reservations expired by the sweeper",
			},
		),
		ReservationsOutstanding: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_reservations_outstanding",
				Help: "Current number of held (unsettled) reservations",
			},
		),

		ConcurrencyRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_concurrency_rejections_total",
				Help: "Total number of calls rejected for exceeding an in-flight concurrency limit",
			},
			[]string{"scope"},
		),
		InflightGauge: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_inflight_calls",
				Help: "Current number of in-flight calls by scope",
			},
			[]string{"scope"},
		),

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_webhooks_total",
				Help: "Total number of webhook deliveries",
			},
			[]string{"event_type", "status"},
		),
		WebhookRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_webhook_retries_total",
				Help: "Total number of webhook retry attempts",
			},
			[]string{"event_type", "attempt"},
		),
		WebhookDLQTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_webhook_dlq_total",
				Help: "Total number of webhooks sent to the dead-letter queue",
			},
			[]string{"event_type"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_webhook_duration_seconds",
				Help:    "Time taken for webhook delivery",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"event_type"},
		),

		PersistenceFlushDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_persistence_flush_duration_seconds",
				Help:    "Time taken to flush the key store to durable storage",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"backend"},
		),
		PersistenceErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_persistence_errors_total",
				Help: "Total number of persistence flush/load failures",
			},
			[]string{"backend", "operation"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_db_connections_active",
				Help: "Number of active database connections",
			},
		),
	}
}

// ObserveEvaluation records a gate evaluation outcome.
func (m *Metrics) ObserveEvaluation(tool string, allowed bool, denyReason string, duration time.Duration) {
	m.EvaluationsTotal.WithLabelValues(tool, boolLabel(allowed)).Inc()
	m.EvaluationLatency.WithLabelValues(tool).Observe(duration.Seconds())
	if !allowed && denyReason != "" {
		m.DenialsTotal.WithLabelValues(reasonTag(denyReason)).Inc()
	}
}

// ObserveCreditsCharged records a successful credit deduction.
func (m *Metrics) ObserveCreditsCharged(tool string, credits int64, keyName string, newBalance int64) {
	if credits > 0 {
		m.CreditsChargedTotal.WithLabelValues(tool).Add(float64(credits))
	}
	m.BalanceGauge.WithLabelValues(keyName).Set(float64(newBalance))
}

// ObserveRefund records a refund.
func (m *Metrics) ObserveRefund(tool string, credits int64) {
	m.CreditsRefundedTotal.WithLabelValues(tool).Add(float64(credits))
}

// ObserveAutoTopup records an auto-topup event.
func (m *Metrics) ObserveAutoTopup(keyName string, newBalance int64) {
	m.AutoTopupsTotal.WithLabelValues(keyName).Inc()
	m.BalanceGauge.WithLabelValues(keyName).Set(float64(newBalance))
}

// ObserveRateLimitHit records a rate-limit denial.
func (m *Metrics) ObserveRateLimitHit(scope string) {
	m.RateLimitHitsTotal.WithLabelValues(scope).Inc()
}

// ObserveQuotaHit records a quota-exceeded denial.
func (m *Metrics) ObserveQuotaHit(period, kind string) {
	m.QuotaHitsTotal.WithLabelValues(period, kind).Inc()
}

// ObserveTeamBudgetHit records a team-budget-exceeded denial.
func (m *Metrics) ObserveTeamBudgetHit(team string) {
	m.TeamBudgetHitsTotal.WithLabelValues(team).Inc()
}

// ObserveReservationHeld records a new credit reservation.
func (m *Metrics) ObserveReservationHeld(tool string) {
	m.ReservationsHeldTotal.WithLabelValues(tool).Inc()
	m.ReservationsOutstanding.Inc()
}

// ObserveReservationSettled records a reservation settlement.
func (m *Metrics) ObserveReservationSettled(tool string) {
	m.ReservationsSettledTotal.WithLabelValues(tool).Inc()
	m.ReservationsOutstanding.Dec()
}

// ObserveReservationReleased records a reservation release (cancel or expire).
func (m *Metrics) ObserveReservationReleased(tool string, expired bool) {
	m.ReservationsReleasedTotal.WithLabelValues(tool).Inc()
	m.ReservationsOutstanding.Dec()
	if expired {
		m.ReservationsExpiredTotal.Inc()
	}
}

// ObserveConcurrencyRejection records a concurrency-limit denial.
func (m *Metrics) ObserveConcurrencyRejection(scope string) {
	m.ConcurrencyRejectionsTotal.WithLabelValues(scope).Inc()
}

// SetInflight updates the current in-flight gauge for a scope.
func (m *Metrics) SetInflight(scope string, n int) {
	m.InflightGauge.WithLabelValues(scope).Set(float64(n))
}

// ObserveWebhook records webhook delivery.
func (m *Metrics) ObserveWebhook(eventType, status string, duration time.Duration, attempt int, sentToDLQ bool) {
	m.WebhooksTotal.WithLabelValues(eventType, status).Inc()
	m.WebhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())

	if attempt > 1 {
		m.WebhookRetriesTotal.WithLabelValues(eventType, formatAttempt(attempt)).Inc()
	}

	if sentToDLQ {
		m.WebhookDLQTotal.WithLabelValues(eventType).Inc()
	}
}

// ObservePersistenceFlush records a key-store persistence flush.
func (m *Metrics) ObservePersistenceFlush(backend string, duration time.Duration, err error) {
	m.PersistenceFlushDuration.WithLabelValues(backend).Observe(duration.Seconds())
	if err != nil {
		m.PersistenceErrorsTotal.WithLabelValues(backend, "flush").Inc()
	}
}

// ObservePersistenceLoadError records a failure loading persisted state.
func (m *Metrics) ObservePersistenceLoadError(backend string) {
	m.PersistenceErrorsTotal.WithLabelValues(backend, "load").Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// reasonTag strips any dynamic suffix from a deny reason (e.g.
// "rate_limited: 60 calls/min exceeded" -> "rate_limited") so the metric
// label cardinality stays bounded.
func reasonTag(reason string) string {
	for i, c := range reason {
		if c == ':' {
			return reason[:i]
		}
	}
	return reason
}

func formatAttempt(attempt int) string {
	if attempt <= 5 {
		return string(rune('0' + attempt))
	}
	return "5+"
}
