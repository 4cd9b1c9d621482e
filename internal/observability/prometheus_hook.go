package observability

import (
	"context"

	"github.com/toolmeter/gateway/internal/metrics"
)

// PrometheusHook adapts the gateway's Prometheus metrics to the hook
// interfaces so the metering pipeline can emit metrics the same way it
// emits any other observer event.
type PrometheusHook struct {
	metrics *metrics.Metrics
}

// NewPrometheusHook creates a hook that emits events to Prometheus metrics.
func NewPrometheusHook(m *metrics.Metrics) *PrometheusHook {
	return &PrometheusHook{metrics: m}
}

func (h *PrometheusHook) Name() string {
	return "prometheus"
}

// ===============================================
// UsageHook Implementation
// ===============================================

func (h *PrometheusHook) OnUsageRecorded(ctx context.Context, event UsageRecordedEvent) {
	h.metrics.ObserveEvaluation(event.Tool, event.Allowed, event.DenyReason, 0)
	if event.Allowed && event.CreditsCharged > 0 {
		h.metrics.CreditsChargedTotal.WithLabelValues(event.Tool).Add(float64(event.CreditsCharged))
	}
}

func (h *PrometheusHook) OnCreditsDeducted(ctx context.Context, event CreditsDeductedEvent) {
	h.metrics.BalanceGauge.WithLabelValues(event.KeyName).Set(float64(event.NewBalance))
}

func (h *PrometheusHook) OnAutoTopup(ctx context.Context, event AutoTopupEvent) {
	h.metrics.ObserveAutoTopup(event.KeyName, event.NewBalance)
}

// ===============================================
// ReservationHook Implementation
// ===============================================

func (h *PrometheusHook) OnReservationHeld(ctx context.Context, event ReservationEvent) {
	h.metrics.ObserveReservationHeld(event.Tool)
}

func (h *PrometheusHook) OnReservationSettled(ctx context.Context, event ReservationEvent) {
	h.metrics.ObserveReservationSettled(event.Tool)
}

func (h *PrometheusHook) OnReservationReleased(ctx context.Context, event ReservationEvent) {
	h.metrics.ObserveReservationReleased(event.Tool, event.Expired)
}

// ===============================================
// WebhookHook Implementation
// ===============================================

func (h *PrometheusHook) OnWebhookQueued(ctx context.Context, event WebhookQueuedEvent) {
	// Prometheus doesn't track queued events separately; delivery outcome
	// is what's actionable.
}

func (h *PrometheusHook) OnWebhookDelivered(ctx context.Context, event WebhookDeliveredEvent) {
	h.metrics.ObserveWebhook(event.EventType, "success", event.Duration, event.Attempt, false)
}

func (h *PrometheusHook) OnWebhookFailed(ctx context.Context, event WebhookFailedEvent) {
	h.metrics.ObserveWebhook(event.EventType, "failed", event.Duration, event.Attempt, event.SentToDLQ)
}

func (h *PrometheusHook) OnWebhookRetried(ctx context.Context, event WebhookRetriedEvent) {
	// Retry attempts are counted as part of OnWebhookFailed/OnWebhookDelivered
	// via the attempt label; nothing additional to record here.
}

// ===============================================
// DatabaseHook Implementation
// ===============================================

func (h *PrometheusHook) OnDatabaseQuery(ctx context.Context, event DatabaseQueryEvent) {
	h.metrics.ObserveDBQuery(event.Operation, event.Backend, event.Duration)
}
