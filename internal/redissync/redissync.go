// Package redissync implements best-effort cross-instance balance
// mirroring over Redis pub/sub (config.RedisConfig.SyncEnabled): when one
// gateway instance deducts credits or fires an auto-topup, it publishes
// the key's new balance on a shared channel so sibling instances sharing
// no other state converge without a round trip through the primary store.
// This is advisory only — the KeyStore each instance owns remains the
// source of truth for its own decisions; a missed or delayed message
// means a sibling's dashboard lags, not that it overspends.
package redissync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/toolmeter/gateway/internal/keystore"
	"github.com/toolmeter/gateway/internal/logger"
)

// BalanceUpdate is one balance-changed notification published on the sync
// channel.
type BalanceUpdate struct {
	Key        string    `json:"key"`
	Balance    int64     `json:"balance"`
	InstanceID string    `json:"instanceId"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher fans out BalanceUpdate messages whenever this instance changes
// a key's balance.
type Publisher struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     zerolog.Logger
}

// NewPublisher connects to redisURL and returns a Publisher that announces
// balance changes on channel, tagged with a fresh instance id so the
// matching Subscriber on this same process can ignore its own echoes.
func NewPublisher(redisURL, channel string, logger zerolog.Logger) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		client:     redis.NewClient(opts),
		channel:    channel,
		instanceID: uuid.New().String(),
		logger:     logger,
	}, nil
}

// InstanceID identifies this publisher's process, for a co-located
// Subscriber to filter its own messages back out.
func (p *Publisher) InstanceID() string { return p.instanceID }

// PublishBalance announces key's new balance. Failures are logged and
// swallowed: a missed sync message must never fail the call that
// triggered it.
func (p *Publisher) PublishBalance(ctx context.Context, key string, balance int64) {
	payload, err := json.Marshal(BalanceUpdate{
		Key:        key,
		Balance:    balance,
		InstanceID: p.instanceID,
		Timestamp:  time.Now(),
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("key", logger.TruncateAPIKey(key)).Msg("redissync: marshal balance update failed")
		return
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Warn().Err(err).Str("key", logger.TruncateAPIKey(key)).Msg("redissync: publish failed, sibling instances may lag")
	}
}

// Close releases the underlying connection pool.
func (p *Publisher) Close() error { return p.client.Close() }

// Subscriber applies balance updates published by sibling instances to the
// local KeyStore, so a key's in-memory balance here converges with the
// instance that actually deducted it.
type Subscriber struct {
	client     *redis.Client
	channel    string
	store      *keystore.KeyStore
	instanceID string // own instance id, messages carrying it are ignored
	logger     zerolog.Logger
	pubsub     *redis.PubSub
	doneCh     chan struct{}
}

// NewSubscriber connects to redisURL and prepares to mirror balance
// updates from channel into store. ownInstanceID, if non-empty, should
// match a co-located Publisher's InstanceID() so this instance never
// re-applies its own announcements.
func NewSubscriber(redisURL, channel string, store *keystore.KeyStore, ownInstanceID string, logger zerolog.Logger) (*Subscriber, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		client:     redis.NewClient(opts),
		channel:    channel,
		store:      store,
		instanceID: ownInstanceID,
		logger:     logger,
		doneCh:     make(chan struct{}),
	}, nil
}

// Start subscribes and applies incoming balance updates until ctx is
// canceled or Close is called. Runs in the caller's goroutine; callers
// that want it backgrounded should `go sub.Start(ctx)`.
func (s *Subscriber) Start(ctx context.Context) {
	s.pubsub = s.client.Subscribe(ctx, s.channel)
	defer close(s.doneCh)

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.apply(msg.Payload)
		}
	}
}

func (s *Subscriber) apply(payload string) {
	var update BalanceUpdate
	if err := json.Unmarshal([]byte(payload), &update); err != nil {
		s.logger.Warn().Err(err).Msg("redissync: malformed balance update, ignoring")
		return
	}
	if update.InstanceID == s.instanceID {
		return
	}
	err := s.store.WithRecord(update.Key, func(r *keystore.ApiKeyRecord) error {
		r.Credits = update.Balance
		return nil
	})
	if err != nil {
		// Unknown key on this instance: not an error, just nothing to mirror.
		s.logger.Debug().Err(err).Msg("redissync: balance update for unknown key, ignoring")
	}
}

// Close stops the subscription and releases the connection pool.
func (s *Subscriber) Close() error {
	if s.pubsub != nil {
		_ = s.pubsub.Close()
		<-s.doneCh
	}
	return s.client.Close()
}
