package reservation

import (
	"sync"
	"testing"
	"time"
)

// fakeStore is a minimal in-memory balanceSource for testing the manager
// without a real keystore.KeyStore.
type fakeStore struct {
	mu       sync.Mutex
	balances map[string]int64
}

func newFakeStore(balances map[string]int64) *fakeStore {
	return &fakeStore{balances: balances}
}

func (f *fakeStore) GetBalance(key string) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.balances[key]
	return b, ok
}

func (f *fakeStore) DeductCredits(key string, n int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[key] -= n
	return f.balances[key], nil
}

func TestReserveWithinAvailableBalance(t *testing.T) {
	store := newFakeStore(map[string]int64{"k1": 1000})
	m := New(store, time.Hour)
	defer m.Close()

	r, err := m.Reserve("k1", 300, time.Minute, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Status != StatusHeld {
		t.Errorf("expected held status, got %s", r.Status)
	}
	if m.HeldBalance("k1") != 300 {
		t.Errorf("expected held balance 300, got %d", m.HeldBalance("k1"))
	}
}

func TestReserveDeniesOverAvailable(t *testing.T) {
	store := newFakeStore(map[string]int64{"k1": 100})
	m := New(store, time.Hour)
	defer m.Close()

	if _, err := m.Reserve("k1", 50, time.Minute, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// available is now 50; requesting 60 must fail.
	if _, err := m.Reserve("k1", 60, time.Minute, ""); err != ErrInsufficient {
		t.Fatalf("expected ErrInsufficient, got %v", err)
	}
}

func TestReserveRejectsNonPositiveAmount(t *testing.T) {
	store := newFakeStore(map[string]int64{"k1": 100})
	m := New(store, time.Hour)
	defer m.Close()

	if _, err := m.Reserve("k1", 0, time.Minute, ""); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestSettleDeductsActualAmountAndFreesHold(t *testing.T) {
	store := newFakeStore(map[string]int64{"k1": 1000})
	m := New(store, time.Hour)
	defer m.Close()

	r, _ := m.Reserve("k1", 300, time.Minute, "")
	actual := int64(250)
	settled, err := m.Settle(r.ID, &actual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settled.Status != StatusSettled {
		t.Errorf("expected settled status, got %s", settled.Status)
	}
	if *settled.SettledAmount != 250 {
		t.Errorf("expected settled amount 250, got %d", *settled.SettledAmount)
	}
	if m.HeldBalance("k1") != 0 {
		t.Errorf("expected held balance freed to 0, got %d", m.HeldBalance("k1"))
	}
	balance, _ := store.GetBalance("k1")
	if balance != 750 {
		t.Errorf("expected balance 750 after settling 250 of a 1000 starting balance, got %d", balance)
	}
}

func TestSettleWithNilActualChargesFullReservedAmount(t *testing.T) {
	store := newFakeStore(map[string]int64{"k1": 1000})
	m := New(store, time.Hour)
	defer m.Close()

	r, _ := m.Reserve("k1", 300, time.Minute, "")
	settled, err := m.Settle(r.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *settled.SettledAmount != 300 {
		t.Errorf("expected full reserved amount charged, got %d", *settled.SettledAmount)
	}
}

func TestSettleCannotExceedReservedAmount(t *testing.T) {
	store := newFakeStore(map[string]int64{"k1": 1000})
	m := New(store, time.Hour)
	defer m.Close()

	r, _ := m.Reserve("k1", 300, time.Minute, "")
	over := int64(500)
	settled, err := m.Settle(r.ID, &over)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *settled.SettledAmount != 300 {
		t.Errorf("expected settled amount capped at reserved 300, got %d", *settled.SettledAmount)
	}
}

func TestReleaseFreesHoldWithoutCharging(t *testing.T) {
	store := newFakeStore(map[string]int64{"k1": 1000})
	m := New(store, time.Hour)
	defer m.Close()

	r, _ := m.Reserve("k1", 300, time.Minute, "")
	released, err := m.Release(r.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if released.Status != StatusReleased {
		t.Errorf("expected released status, got %s", released.Status)
	}
	if m.HeldBalance("k1") != 0 {
		t.Errorf("expected held balance freed, got %d", m.HeldBalance("k1"))
	}
	balance, _ := store.GetBalance("k1")
	if balance != 1000 {
		t.Errorf("expected balance untouched at 1000, got %d", balance)
	}
}

func TestSettleNonHeldReservationFails(t *testing.T) {
	store := newFakeStore(map[string]int64{"k1": 1000})
	m := New(store, time.Hour)
	defer m.Close()

	r, _ := m.Reserve("k1", 300, time.Minute, "")
	if _, err := m.Release(r.ID); err != nil {
		t.Fatalf("unexpected error releasing: %v", err)
	}
	if _, err := m.Settle(r.ID, nil); err != ErrNotHeld {
		t.Fatalf("expected ErrNotHeld settling an already-released reservation, got %v", err)
	}
}

func TestSweepExpiresStaleHolds(t *testing.T) {
	store := newFakeStore(map[string]int64{"k1": 1000})
	m := New(store, time.Hour)
	defer m.Close()

	r, _ := m.Reserve("k1", 300, -time.Second, "")
	count := m.sweepExpired(time.Now())
	if count != 1 {
		t.Fatalf("expected 1 expired reservation, got %d", count)
	}
	got, _ := m.Get(r.ID)
	if got.Status != StatusExpired {
		t.Errorf("expected expired status, got %s", got.Status)
	}
	if m.HeldBalance("k1") != 0 {
		t.Errorf("expected held balance freed after expiry, got %d", m.HeldBalance("k1"))
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	store := newFakeStore(map[string]int64{"k1": 1000})
	m := New(store, time.Hour)
	defer m.Close()

	held, _ := m.Reserve("k1", 100, time.Minute, "")
	settled, _ := m.Reserve("k1", 100, time.Minute, "")
	released, _ := m.Reserve("k1", 100, time.Minute, "")
	_ = held
	m.Settle(settled.ID, nil)
	m.Release(released.ID)

	stats := m.Stats()
	if stats.HeldCount != 1 || stats.SettledCount != 1 || stats.ReleasedCount != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
