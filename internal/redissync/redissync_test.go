package redissync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/toolmeter/gateway/internal/keystore"
	"github.com/toolmeter/gateway/internal/logger"
)

func TestApplyMirrorsBalanceFromSibling(t *testing.T) {
	store := keystore.New(logger.New(logger.Config{}))
	record, err := store.CreateKey("test", 100, keystore.Options{})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	sub := &Subscriber{store: store, instanceID: "self", logger: logger.New(logger.Config{})}

	payload, err := json.Marshal(BalanceUpdate{
		Key:        record.Key,
		Balance:    42,
		InstanceID: "sibling",
		Timestamp:  time.Now(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	sub.apply(string(payload))

	updated := store.GetKey(record.Key)
	if updated.Credits != 42 {
		t.Errorf("expected balance mirrored to 42, got %d", updated.Credits)
	}
}

func TestApplyIgnoresOwnInstanceEcho(t *testing.T) {
	store := keystore.New(logger.New(logger.Config{}))
	record, err := store.CreateKey("test", 100, keystore.Options{})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	sub := &Subscriber{store: store, instanceID: "self", logger: logger.New(logger.Config{})}

	payload, err := json.Marshal(BalanceUpdate{
		Key:        record.Key,
		Balance:    1,
		InstanceID: "self",
		Timestamp:  time.Now(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	sub.apply(string(payload))

	updated := store.GetKey(record.Key)
	if updated.Credits != 100 {
		t.Errorf("expected own-instance echo ignored, balance still 100, got %d", updated.Credits)
	}
}

func TestApplyIgnoresUnknownKey(t *testing.T) {
	store := keystore.New(logger.New(logger.Config{}))
	sub := &Subscriber{store: store, instanceID: "self", logger: logger.New(logger.Config{})}

	payload, _ := json.Marshal(BalanceUpdate{Key: "tm_live_does_not_exist", Balance: 5, InstanceID: "sibling"})
	sub.apply(string(payload)) // must not panic
}

func TestApplyIgnoresMalformedPayload(t *testing.T) {
	store := keystore.New(logger.New(logger.Config{}))
	sub := &Subscriber{store: store, instanceID: "self", logger: logger.New(logger.Config{})}
	sub.apply("not json") // must not panic
}
