package webhook

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/toolmeter/gateway/internal/circuitbreaker"
	"github.com/toolmeter/gateway/internal/config"
	"github.com/toolmeter/gateway/internal/httputil"
	"github.com/toolmeter/gateway/internal/metrics"
	"github.com/toolmeter/gateway/internal/observability"
)

const eventTypeUsage = "usage.recorded"

// RetryConfig controls the backoff schedule for webhook delivery attempts.
type RetryConfig struct {
	Enabled         bool
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func retryConfigFromGateway(cfg config.RetryConfig) RetryConfig {
	return RetryConfig{
		Enabled:         cfg.Enabled,
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval.Duration,
		MaxInterval:     cfg.MaxInterval.Duration,
		Multiplier:      cfg.Multiplier,
	}
}

// Client delivers usage events to a single configured URL. Delivery runs
// asynchronously on a bounded worker pool so a slow or unreachable
// receiver never blocks the evaluation path that queued the event.
type Client struct {
	url        string
	secret     string
	headers    map[string]string
	timeout    time.Duration
	retry      RetryConfig
	httpClient *http.Client
	breaker    *circuitbreaker.Manager
	dlq        DLQStore
	metrics    *metrics.Metrics
	registry   *observability.Registry
	logger     zerolog.Logger

	jobs chan UsageEvent
	done chan struct{}
}

// Option customizes client construction.
type Option func(*Client)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithRegistry(r *observability.Registry) Option {
	return func(c *Client) { c.registry = r }
}

func WithBreaker(b *circuitbreaker.Manager) Option {
	return func(c *Client) { c.breaker = b }
}

func WithDLQ(store DLQStore) Option {
	return func(c *Client) { c.dlq = store }
}

// workerCount bounds concurrent in-flight deliveries. Five workers keep a
// burst of usage events from opening unbounded outbound connections while
// still draining the queue promptly under normal load.
const workerCount = 5

// queueDepth bounds how many queued events can be buffered before Enqueue
// starts dropping new ones; a receiver that's down for minutes
// shouldn't grow this without limit.
const queueDepth = 1000

// NewClient builds a webhook client from gateway configuration. Returns nil
// if no URL is configured: callers enqueue against the nil receiver the
// same way they would a disabled sink, since Enqueue is a no-op on nil.
func NewClient(cfg config.WebhookConfig, opts ...Option) *Client {
	if cfg.URL == "" {
		return nil
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	c := &Client{
		url:        cfg.URL,
		secret:     cfg.Secret,
		headers:    cfg.Headers,
		timeout:    timeout,
		retry:      retryConfigFromGateway(cfg.Retry),
		httpClient: httputil.NewClient(timeout),
		dlq:        NoopDLQStore{},
		logger:     zerolog.Nop(),
		jobs:       make(chan UsageEvent, queueDepth),
		done:       make(chan struct{}),
	}

	if cfg.DLQEnabled && cfg.DLQPath != "" {
		if store, err := NewFileDLQStore(cfg.DLQPath); err == nil {
			c.dlq = store
		}
	}

	for _, opt := range opts {
		opt(c)
	}

	for i := 0; i < workerCount; i++ {
		go c.worker()
	}

	return c
}

// Enqueue queues a usage event for asynchronous delivery. Never blocks the
// caller: if the queue is full the event is dropped and logged, matching
// the propagation policy that observer/webhook failures never deny live
// traffic.
func (c *Client) Enqueue(event UsageEvent) {
	if c == nil {
		return
	}
	select {
	case c.jobs <- event:
	default:
		c.logger.Warn().Str("tool", event.Tool).Msg("webhook: queue full, dropping event")
	}
}

// Close drains in-flight sends and stops the worker pool. Safe to call on a
// nil client.
func (c *Client) Close() {
	if c == nil {
		return
	}
	close(c.jobs)
	for i := 0; i < workerCount; i++ {
		<-c.done
	}
}

func (c *Client) worker() {
	for event := range c.jobs {
		c.deliver(event)
	}
	c.done <- struct{}{}
}

func (c *Client) deliver(event UsageEvent) {
	ctx := context.Background()
	eventID := generateEventID()

	body, err := event.marshal()
	if err != nil {
		c.logger.Error().Err(err).Msg("webhook: failed to marshal usage event")
		return
	}

	c.emitQueued(ctx, eventID)

	startTime := time.Now()
	maxAttempts := 1
	if c.retry.Enabled && c.retry.MaxAttempts > 0 {
		maxAttempts = c.retry.MaxAttempts
	}

	interval := c.retry.InitialInterval
	if interval <= 0 {
		interval = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		statusCode, sendErr := c.send(ctx, body)
		duration := time.Since(startTime)

		if sendErr == nil {
			if c.metrics != nil {
				c.metrics.ObserveWebhook(eventTypeUsage, "success", duration, attempt, false)
			}
			c.emitDelivered(ctx, eventID, attempt, duration, statusCode)
			return
		}

		lastErr = sendErr
		if attempt < maxAttempts {
			nextRetryAt := time.Now().Add(interval)
			c.emitRetried(ctx, eventID, attempt, maxAttempts, nextRetryAt, interval)
			c.logger.Warn().Err(sendErr).Int("attempt", attempt).Int("maxAttempts", maxAttempts).
				Msg("webhook: delivery attempt failed")

			time.Sleep(interval)

			interval = time.Duration(float64(interval) * c.retry.Multiplier)
			if c.retry.MaxInterval > 0 && interval > c.retry.MaxInterval {
				interval = c.retry.MaxInterval
			}
		}
	}

	duration := time.Since(startTime)
	sentToDLQ := c.dlq != nil
	if c.metrics != nil {
		c.metrics.ObserveWebhook(eventTypeUsage, "failed", duration, maxAttempts, sentToDLQ)
	}
	c.emitFailed(ctx, eventID, maxAttempts, duration, lastErr, sentToDLQ)

	if sentToDLQ {
		if err := c.dlq.Save(ctx, FailedEvent{
			ID:          eventID,
			URL:         c.url,
			Payload:     body,
			Attempts:    maxAttempts,
			LastError:   lastErr.Error(),
			LastAttempt: time.Now().UTC(),
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			c.logger.Error().Err(err).Msg("webhook: failed to write dead letter")
		}
	}
}

// send performs a single delivery attempt, routed through the webhook
// circuit breaker when one is configured so a downed receiver trips open
// instead of queuing up a worker per retry indefinitely.
func (c *Client) send(ctx context.Context, body []byte) (int, error) {
	do := func() (interface{}, error) {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("build request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.secret != "" {
			req.Header.Set("X-Webhook-Signature", sign(c.secret, body))
		}
		for k, v := range c.headers {
			if k == "" {
				continue
			}
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return resp.StatusCode, fmt.Errorf("received status %d from %s", resp.StatusCode, c.url)
		}
		return resp.StatusCode, nil
	}

	if c.breaker == nil {
		status, err := do()
		return status.(int), err
	}

	result, err := c.breaker.Execute(circuitbreaker.ServiceWebhook, do)
	status, _ := result.(int)
	return status, err
}

func (c *Client) emitQueued(ctx context.Context, eventID string) {
	if c.registry == nil {
		return
	}
	c.registry.EmitWebhookQueued(ctx, observability.WebhookQueuedEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventTypeUsage,
		URL:       c.url,
		EventID:   eventID,
	})
}

func (c *Client) emitDelivered(ctx context.Context, eventID string, attempt int, duration time.Duration, statusCode int) {
	if c.registry == nil {
		return
	}
	c.registry.EmitWebhookDelivered(ctx, observability.WebhookDeliveredEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  eventTypeUsage,
		URL:        c.url,
		EventID:    eventID,
		Attempt:    attempt,
		Duration:   duration,
		StatusCode: statusCode,
	})
}

func (c *Client) emitFailed(ctx context.Context, eventID string, attempt int, duration time.Duration, err error, sentToDLQ bool) {
	if c.registry == nil {
		return
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	c.registry.EmitWebhookFailed(ctx, observability.WebhookFailedEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventTypeUsage,
		URL:       c.url,
		EventID:   eventID,
		Attempt:   attempt,
		Duration:  duration,
		Error:     errMsg,
		SentToDLQ: sentToDLQ,
	})
}

func (c *Client) emitRetried(ctx context.Context, eventID string, attempt, maxAttempts int, nextRetryAt time.Time, backoff time.Duration) {
	if c.registry == nil {
		return
	}
	c.registry.EmitWebhookRetried(ctx, observability.WebhookRetriedEvent{
		Timestamp:      time.Now().UTC(),
		EventType:      eventTypeUsage,
		URL:            c.url,
		EventID:        eventID,
		CurrentAttempt: attempt,
		MaxAttempts:    maxAttempts,
		NextRetryAt:    nextRetryAt,
		BackoffSeconds: backoff.Seconds(),
	})
}

// generateEventID creates a unique delivery identifier, independent of the
// usage event's own identity, so the same usage event redelivered after a
// worker restart is still traceable as a distinct delivery attempt.
func generateEventID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("whk_%d", time.Now().UnixNano())
	}
	return "whk_" + hex.EncodeToString(buf)
}
