package ratelimiter

import (
	"testing"
	"time"
)

func TestCheckAllowsUnderLimit(t *testing.T) {
	l := New(3, time.Minute)
	defer l.Close()

	for i := 0; i < 3; i++ {
		allowed, _ := l.Check("k1")
		if !allowed {
			t.Fatalf("call %d should be allowed", i)
		}
		l.Record("k1")
	}

	allowed, reason := l.Check("k1")
	if allowed {
		t.Fatal("4th call should be denied")
	}
	if reason == "" {
		t.Error("expected a reason naming the limit")
	}
}

func TestZeroLimitMeansUnlimited(t *testing.T) {
	l := New(0, time.Minute)
	defer l.Close()

	for i := 0; i < 100; i++ {
		allowed, _ := l.Check("k1")
		if !allowed {
			t.Fatalf("call %d should be allowed under unlimited limit", i)
		}
		l.Record("k1")
	}
}

func TestGetCurrentCountAfterPruning(t *testing.T) {
	l := New(5, time.Minute)
	defer l.Close()

	l.Record("k1")
	l.Record("k1")
	if got := l.GetCurrentCount("k1"); got != 2 {
		t.Errorf("expected count 2, got %d", got)
	}
}

func TestCustomCompositeKeyLimit(t *testing.T) {
	l := New(100, time.Minute)
	defer l.Close()

	composite := CompositeKey("key1", "search")
	for i := 0; i < 2; i++ {
		allowed, _ := l.CheckCustom(composite, 2)
		if !allowed {
			t.Fatalf("call %d should be allowed under custom limit 2", i)
		}
		l.RecordCustom(composite)
	}
	if allowed, _ := l.CheckCustom(composite, 2); allowed {
		t.Error("3rd call should be denied under custom limit 2")
	}

	// The key's global window must remain untouched by composite activity.
	if allowed, _ := l.Check("key1"); !allowed {
		t.Error("global window should be independent of the composite key's window")
	}
}

func TestSetGlobalLimitTakesEffectOnNextCall(t *testing.T) {
	l := New(1, time.Minute)
	defer l.Close()

	l.Record("k1")
	if allowed, _ := l.Check("k1"); allowed {
		t.Fatal("expected denial under limit 1 after one record")
	}

	l.SetGlobalLimit(5)
	if allowed, _ := l.Check("k1"); !allowed {
		t.Error("expected allow after raising the limit")
	}
}

func TestCompositeKeyFormat(t *testing.T) {
	if got := CompositeKey("abc", "search"); got != "abc:tool:search" {
		t.Errorf("unexpected composite key: %q", got)
	}
}
