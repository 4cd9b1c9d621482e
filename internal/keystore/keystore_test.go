package keystore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestCreateKeyGeneratesUniquePrefixedKey(t *testing.T) {
	s := New(testLogger())
	record, err := s.CreateKey("primary", 1000, Options{})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if record.Key == "" {
		t.Fatal("expected non-empty key")
	}
	if got := record.Key[:len(KeyPrefix)]; got != KeyPrefix {
		t.Errorf("expected key prefixed with %q, got %q", KeyPrefix, record.Key)
	}
	if !record.Active {
		t.Error("new key should be active")
	}
}

func TestImportKeyRejectsDuplicate(t *testing.T) {
	s := New(testLogger())
	if _, err := s.ImportKey("tm_live_fixed", "a", 10, Options{}); err != nil {
		t.Fatalf("first import: %v", err)
	}
	if _, err := s.ImportKey("tm_live_fixed", "b", 10, Options{}); err != ErrKeyExists {
		t.Fatalf("expected ErrKeyExists, got %v", err)
	}
}

func TestGetKeyFiltersUnusableRecords(t *testing.T) {
	s := New(testLogger())
	active, _ := s.CreateKey("active", 10, Options{})
	revoked, _ := s.CreateKey("revoked", 10, Options{})
	suspended, _ := s.CreateKey("suspended", 10, Options{})
	expired, _ := s.CreateKey("expired", 10, Options{})

	if err := s.RevokeKey(revoked.Key); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSuspended(suspended.Key, true); err != nil {
		t.Fatal(err)
	}
	past := time.Now().UTC().Add(-time.Hour)
	if err := s.WithRecord(expired.Key, func(r *ApiKeyRecord) error {
		r.ExpiresAt = &past
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if s.GetKey(active.Key) == nil {
		t.Error("expected active key to resolve")
	}
	if s.GetKey(revoked.Key) != nil {
		t.Error("expected revoked key to be filtered")
	}
	if s.GetKey(suspended.Key) != nil {
		t.Error("expected suspended key to be filtered")
	}
	if s.GetKey(expired.Key) != nil {
		t.Error("expected expired key to be filtered")
	}
	if !s.IsExpired(expired.Key) {
		t.Error("expected IsExpired to report true")
	}
	if !s.IsRevoked(revoked.Key) {
		t.Error("expected IsRevoked to report true")
	}
	if !s.IsSuspended(suspended.Key) {
		t.Error("expected IsSuspended to report true")
	}
}

func TestGetKeyUnknownKeyReturnsNil(t *testing.T) {
	s := New(testLogger())
	if s.GetKey("does-not-exist") != nil {
		t.Error("expected nil for unknown key")
	}
	if s.IsExpired("does-not-exist") {
		t.Error("unknown key should not report expired")
	}
}

func TestChargeDeductsAndTracksTotals(t *testing.T) {
	s := New(testLogger())
	record, _ := s.CreateKey("spender", 100, Options{})

	remaining, err := s.Charge(record.Key, 30)
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if remaining != 70 {
		t.Errorf("expected remaining 70, got %d", remaining)
	}

	updated := s.GetKey(record.Key)
	if updated.TotalSpent != 30 || updated.TotalCalls != 1 {
		t.Errorf("unexpected totals: spent=%d calls=%d", updated.TotalSpent, updated.TotalCalls)
	}
}

func TestChargeRejectsInsufficientBalance(t *testing.T) {
	s := New(testLogger())
	record, _ := s.CreateKey("poor", 5, Options{})

	if _, err := s.Charge(record.Key, 10); err != ErrInsufficientCredits {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if s.GetKey(record.Key).Credits != 5 {
		t.Error("balance must be unchanged after a failed charge")
	}
}

func TestChargeIsAtomicUnderConcurrency(t *testing.T) {
	s := New(testLogger())
	record, _ := s.CreateKey("race", 100, Options{})

	var wg sync.WaitGroup
	successes := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Charge(record.Key, 10)
			successes <- err == nil
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for ok := range successes {
		if ok {
			count++
		}
	}
	if count != 10 {
		t.Errorf("expected exactly 10 successful charges of 10 against balance 100, got %d", count)
	}
	if s.GetKey(record.Key).Credits != 0 {
		t.Errorf("expected balance 0, got %d", s.GetKey(record.Key).Credits)
	}
}

func TestRefundUndoesChargeEffects(t *testing.T) {
	s := New(testLogger())
	record, _ := s.CreateKey("refundee", 100, Options{})

	if _, err := s.Charge(record.Key, 40); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Refund(record.Key, 40); err != nil {
		t.Fatal(err)
	}

	updated := s.GetKey(record.Key)
	if updated.Credits != 100 {
		t.Errorf("expected balance restored to 100, got %d", updated.Credits)
	}
	if updated.TotalSpent != 0 || updated.TotalCalls != 0 {
		t.Errorf("expected totals reverted, got spent=%d calls=%d", updated.TotalSpent, updated.TotalCalls)
	}
}

func TestRefundFloorsAtZero(t *testing.T) {
	s := New(testLogger())
	record, _ := s.CreateKey("floor", 10, Options{})

	// Refund without a prior charge should not drive totals negative.
	if _, err := s.Refund(record.Key, 5); err != nil {
		t.Fatal(err)
	}
	updated := s.GetKey(record.Key)
	if updated.TotalSpent != 0 || updated.TotalCalls != 0 {
		t.Errorf("expected totals floored at zero, got spent=%d calls=%d", updated.TotalSpent, updated.TotalCalls)
	}
}

func TestCreditsClampedToMax(t *testing.T) {
	s := New(testLogger())
	record, _ := s.CreateKey("whale", MaxCredits+1000, Options{})
	if record.Credits != MaxCredits {
		t.Errorf("expected credits clamped to %d, got %d", MaxCredits, record.Credits)
	}

	if _, err := s.AddCredits(record.Key, 1000); err != nil {
		t.Fatal(err)
	}
	if s.GetKey(record.Key).Credits != MaxCredits {
		t.Error("expected AddCredits to stay clamped at MaxCredits")
	}
}

func TestTagsTruncatedSilently(t *testing.T) {
	tags := make(map[string]string, 60)
	longVal := ""
	for i := 0; i < 150; i++ {
		longVal += "x"
	}
	for i := 0; i < 60; i++ {
		tags[fmt.Sprintf("tag-%d", i)] = longVal
	}

	s := New(testLogger())
	record, err := s.CreateKey("tagged", 10, Options{Tags: tags})
	if err != nil {
		t.Fatal(err)
	}
	if len(record.Tags) > maxTags {
		t.Errorf("expected at most %d tags, got %d", maxTags, len(record.Tags))
	}
	for k, v := range record.Tags {
		if len(k) > maxTagStrLen || len(v) > maxTagStrLen {
			t.Errorf("expected tag entries truncated to %d chars", maxTagStrLen)
		}
	}
}

func TestCheckIPExactAndCIDR(t *testing.T) {
	s := New(testLogger())
	record, _ := s.CreateKey("restricted", 10, Options{
		IPAllowlist: []string{"10.0.0.5", "192.168.1.0/24"},
	})

	cases := []struct {
		addr string
		want bool
	}{
		{"10.0.0.5", true},
		{"10.0.0.6", false},
		{"192.168.1.42", true},
		{"192.168.2.1", false},
		{"not-an-ip", false},
	}
	for _, c := range cases {
		if got := s.CheckIP(record.Key, c.addr); got != c.want {
			t.Errorf("CheckIP(%q) = %v, want %v", c.addr, got, c.want)
		}
	}
}

func TestCheckIPEmptyAllowlistPermitsAll(t *testing.T) {
	s := New(testLogger())
	record, _ := s.CreateKey("open", 10, Options{})
	if !s.CheckIP(record.Key, "1.2.3.4") {
		t.Error("expected empty allowlist to permit any address")
	}
}

func TestMatchAllowlistRejectsMalformedCIDR(t *testing.T) {
	if MatchAllowlist([]string{"10.0.0.0/99"}, "10.0.0.1") {
		t.Error("expected out-of-range prefix length to be rejected, not matched")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s, err := NewFile(path, 50*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	record, err := s.CreateKey("durable", 500, Options{Namespace: "team-a"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Charge(record.Key, 50); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected state file to exist: %v", err)
	}

	reopened, err := NewFile(path, 50*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	reloaded := reopened.GetKey(record.Key)
	if reloaded == nil {
		t.Fatal("expected record to survive reload")
	}
	if reloaded.Credits != 450 {
		t.Errorf("expected credits 450 after reload, got %d", reloaded.Credits)
	}
	if reloaded.Namespace != "team-a" {
		t.Errorf("expected namespace preserved, got %q", reloaded.Namespace)
	}
}

func TestPersistenceTolerantOfMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	s, err := NewFile(path, time.Second, testLogger())
	if err != nil {
		t.Fatalf("expected no error loading a nonexistent file, got %v", err)
	}
	defer s.Close()

	if len(s.Snapshot()) != 0 {
		t.Error("expected empty store when no state file existed")
	}
}

func TestPersistenceTolerantOfCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := NewFile(path, time.Second, testLogger())
	if err != nil {
		t.Fatalf("expected corrupt file to be tolerated, got %v", err)
	}
	defer s.Close()

	if len(s.Snapshot()) != 0 {
		t.Error("expected empty store after corrupt load")
	}
}

func TestWithRecordMutatesUnderLock(t *testing.T) {
	s := New(testLogger())
	record, _ := s.CreateKey("mutate", 10, Options{})

	err := s.WithRecord(record.Key, func(r *ApiKeyRecord) error {
		r.QuotaDailyCalls++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.GetKey(record.Key).QuotaDailyCalls != 1 {
		t.Error("expected mutation inside WithRecord to persist")
	}
}

func TestWithRecordUnknownKey(t *testing.T) {
	s := New(testLogger())
	err := s.WithRecord("missing", func(r *ApiKeyRecord) error { return nil })
	if err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}
