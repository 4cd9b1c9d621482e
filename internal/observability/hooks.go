package observability

import (
	"context"
	"time"
)

// Hook is the base interface for all observability hooks.
// Implementations can emit events to Prometheus, a Redis mirror, a team
// ledger, etc.
type Hook interface {
	// Name returns the hook's identifier for logging/debugging
	Name() string
}

// UsageHook receives events from the metering pipeline: every evaluated
// call, every successful credit deduction, and every auto-topup. Grounded
// on the collaborator hooks named in the observer-hooks surface
// (onUsageEvent, onCreditsDeducted, onAutoTopup).
type UsageHook interface {
	Hook

	// OnUsageRecorded is called after every evaluated call, allowed or denied.
	OnUsageRecorded(ctx context.Context, event UsageRecordedEvent)

	// OnCreditsDeducted is called after every successful credit deduction.
	OnCreditsDeducted(ctx context.Context, event CreditsDeductedEvent)

	// OnAutoTopup is called after an auto-topup fires.
	OnAutoTopup(ctx context.Context, event AutoTopupEvent)
}

// ReservationHook receives events from the two-phase credit reservation
// lifecycle (hold, settle, release).
type ReservationHook interface {
	Hook

	// OnReservationHeld is called when credits are reserved.
	OnReservationHeld(ctx context.Context, event ReservationEvent)

	// OnReservationSettled is called when a reservation is committed.
	OnReservationSettled(ctx context.Context, event ReservationEvent)

	// OnReservationReleased is called when a reservation is cancelled or
	// expires unsettled.
	OnReservationReleased(ctx context.Context, event ReservationEvent)
}

// WebhookHook receives events during webhook delivery.
type WebhookHook interface {
	Hook

	// OnWebhookQueued is called when a webhook is added to the delivery queue.
	OnWebhookQueued(ctx context.Context, event WebhookQueuedEvent)

	// OnWebhookDelivered is called when a webhook is successfully delivered.
	OnWebhookDelivered(ctx context.Context, event WebhookDeliveredEvent)

	// OnWebhookFailed is called when a webhook delivery fails.
	OnWebhookFailed(ctx context.Context, event WebhookFailedEvent)

	// OnWebhookRetried is called when a webhook is retried.
	OnWebhookRetried(ctx context.Context, event WebhookRetriedEvent)
}

// DatabaseHook receives events from database operations (keystore's
// optional Postgres backend, the toolpricing/team Postgres repositories).
type DatabaseHook interface {
	Hook

	// OnDatabaseQuery is called for database queries.
	OnDatabaseQuery(ctx context.Context, event DatabaseQueryEvent)
}

// ===============================================
// Event Types
// ===============================================

// UsageRecordedEvent mirrors a meter record. APIKey is expected to already
// be truncated by the caller (logger.TruncateAPIKey) before it reaches a
// hook, so observers never see a full secret.
type UsageRecordedEvent struct {
	Timestamp      time.Time
	APIKey         string
	KeyName        string
	Tool           string
	Allowed        bool
	DenyReason     string
	CreditsCharged int64
	Namespace      string
	RequestID      string
	Shadow         bool
	Metadata       map[string]string
}

// CreditsDeductedEvent fires after every successful deduction, independent
// of whether the call was charged via immediate debit or reservation
// settlement.
type CreditsDeductedEvent struct {
	Timestamp  time.Time
	Key        string
	KeyName    string
	Amount     int64
	NewBalance int64
}

// AutoTopupEvent fires after an auto-topup tops off a key's balance.
type AutoTopupEvent struct {
	Timestamp  time.Time
	Key        string
	KeyName    string
	Amount     int64
	NewBalance int64
}

// ReservationEvent covers hold, settle, and release (cancel or expire).
type ReservationEvent struct {
	Timestamp     time.Time
	ReservationID string
	Key           string
	KeyName       string
	Tool          string
	Credits       int64
	Expired       bool
}

// WebhookQueuedEvent is emitted when a webhook is queued for delivery.
type WebhookQueuedEvent struct {
	Timestamp time.Time
	EventType string // "usage.recorded", "reservation.expired", etc.
	URL       string
	EventID   string // Idempotency key for the webhook event
}

// WebhookDeliveredEvent is emitted when a webhook is successfully delivered.
type WebhookDeliveredEvent struct {
	Timestamp  time.Time
	EventType  string
	URL        string
	EventID    string
	Attempt    int
	Duration   time.Duration
	StatusCode int
}

// WebhookFailedEvent is emitted when a webhook delivery fails.
type WebhookFailedEvent struct {
	Timestamp time.Time
	EventType string
	URL       string
	EventID   string
	Attempt   int
	Duration  time.Duration
	Error     string
	SentToDLQ bool
}

// WebhookRetriedEvent is emitted when a webhook is scheduled for retry.
type WebhookRetriedEvent struct {
	Timestamp      time.Time
	EventType      string
	URL            string
	EventID        string
	CurrentAttempt int
	MaxAttempts    int
	NextRetryAt    time.Time
	BackoffSeconds float64
}

// DatabaseQueryEvent is emitted for database operations.
type DatabaseQueryEvent struct {
	Timestamp time.Time
	Operation string // "get", "list", "save", "delete", etc.
	Backend   string // "postgres", "file", "memory"
	Duration  time.Duration
	Success   bool
	Error     string
}
