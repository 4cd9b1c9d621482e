package observability

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Registry manages a collection of observability hooks.
// It safely dispatches events to all registered hooks with error handling.
// Observer/webhook errors are swallowed here so a broken downstream hook
// can never deny live traffic.
type Registry struct {
	usageHooks       []UsageHook
	reservationHooks []ReservationHook
	webhookHooks     []WebhookHook
	databaseHooks    []DatabaseHook
	logger           zerolog.Logger
	mu               sync.RWMutex
}

// NewRegistry creates a new hook registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger,
	}
}

// RegisterUsageHook adds a usage hook to the registry.
func (r *Registry) RegisterUsageHook(hook UsageHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usageHooks = append(r.usageHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered usage hook")
}

// RegisterReservationHook adds a reservation hook to the registry.
func (r *Registry) RegisterReservationHook(hook ReservationHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reservationHooks = append(r.reservationHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered reservation hook")
}

// RegisterWebhookHook adds a webhook hook to the registry.
func (r *Registry) RegisterWebhookHook(hook WebhookHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.webhookHooks = append(r.webhookHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered webhook hook")
}

// RegisterDatabaseHook adds a database hook to the registry.
func (r *Registry) RegisterDatabaseHook(hook DatabaseHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.databaseHooks = append(r.databaseHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered database hook")
}

// ===============================================
// Usage Hook Dispatchers
// ===============================================

// EmitUsageRecorded dispatches the event to all usage hooks.
func (r *Registry) EmitUsageRecorded(ctx context.Context, event UsageRecordedEvent) {
	r.mu.RLock()
	hooks := r.usageHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnUsageRecorded", hook.Name())
			hook.OnUsageRecorded(ctx, event)
		}()
	}
}

// EmitCreditsDeducted dispatches the event to all usage hooks.
func (r *Registry) EmitCreditsDeducted(ctx context.Context, event CreditsDeductedEvent) {
	r.mu.RLock()
	hooks := r.usageHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnCreditsDeducted", hook.Name())
			hook.OnCreditsDeducted(ctx, event)
		}()
	}
}

// EmitAutoTopup dispatches the event to all usage hooks.
func (r *Registry) EmitAutoTopup(ctx context.Context, event AutoTopupEvent) {
	r.mu.RLock()
	hooks := r.usageHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnAutoTopup", hook.Name())
			hook.OnAutoTopup(ctx, event)
		}()
	}
}

// ===============================================
// Reservation Hook Dispatchers
// ===============================================

// EmitReservationHeld dispatches the event to all reservation hooks.
func (r *Registry) EmitReservationHeld(ctx context.Context, event ReservationEvent) {
	r.mu.RLock()
	hooks := r.reservationHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnReservationHeld", hook.Name())
			hook.OnReservationHeld(ctx, event)
		}()
	}
}

// EmitReservationSettled dispatches the event to all reservation hooks.
func (r *Registry) EmitReservationSettled(ctx context.Context, event ReservationEvent) {
	r.mu.RLock()
	hooks := r.reservationHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnReservationSettled", hook.Name())
			hook.OnReservationSettled(ctx, event)
		}()
	}
}

// EmitReservationReleased dispatches the event to all reservation hooks.
func (r *Registry) EmitReservationReleased(ctx context.Context, event ReservationEvent) {
	r.mu.RLock()
	hooks := r.reservationHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnReservationReleased", hook.Name())
			hook.OnReservationReleased(ctx, event)
		}()
	}
}

// ===============================================
// Webhook Hook Dispatchers
// ===============================================

// EmitWebhookQueued dispatches the event to all webhook hooks.
func (r *Registry) EmitWebhookQueued(ctx context.Context, event WebhookQueuedEvent) {
	r.mu.RLock()
	hooks := r.webhookHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnWebhookQueued", hook.Name())
			hook.OnWebhookQueued(ctx, event)
		}()
	}
}

// EmitWebhookDelivered dispatches the event to all webhook hooks.
func (r *Registry) EmitWebhookDelivered(ctx context.Context, event WebhookDeliveredEvent) {
	r.mu.RLock()
	hooks := r.webhookHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnWebhookDelivered", hook.Name())
			hook.OnWebhookDelivered(ctx, event)
		}()
	}
}

// EmitWebhookFailed dispatches the event to all webhook hooks.
func (r *Registry) EmitWebhookFailed(ctx context.Context, event WebhookFailedEvent) {
	r.mu.RLock()
	hooks := r.webhookHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnWebhookFailed", hook.Name())
			hook.OnWebhookFailed(ctx, event)
		}()
	}
}

// EmitWebhookRetried dispatches the event to all webhook hooks.
func (r *Registry) EmitWebhookRetried(ctx context.Context, event WebhookRetriedEvent) {
	r.mu.RLock()
	hooks := r.webhookHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnWebhookRetried", hook.Name())
			hook.OnWebhookRetried(ctx, event)
		}()
	}
}

// ===============================================
// Database Hook Dispatchers
// ===============================================

// EmitDatabaseQuery dispatches the event to all database hooks.
func (r *Registry) EmitDatabaseQuery(ctx context.Context, event DatabaseQueryEvent) {
	r.mu.RLock()
	hooks := r.databaseHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnDatabaseQuery", hook.Name())
			hook.OnDatabaseQuery(ctx, event)
		}()
	}
}

// ===============================================
// Error Recovery
// ===============================================

// recoverPanic recovers from panics in hook implementations.
// This ensures one bad hook doesn't crash the entire system.
func (r *Registry) recoverPanic(method, hookName string) {
	if err := recover(); err != nil {
		r.logger.Error().
			Str("hook", hookName).
			Str("method", method).
			Interface("panic", err).
			Msg("observability hook panicked (recovered)")
	}
}
