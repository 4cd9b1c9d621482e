package concurrency

import "testing"

func TestAcquireUnderBothLimits(t *testing.T) {
	l := New(2, 2)
	r := l.Acquire("k1", "search")
	if !r.Acquired {
		t.Fatalf("expected acquire to succeed, got reason %q", r.Reason)
	}
}

func TestAcquireDeniesAtKeyLimit(t *testing.T) {
	l := New(1, 10)
	l.Acquire("k1", "a")
	r := l.Acquire("k1", "b")
	if r.Acquired {
		t.Fatal("expected denial at key inflight limit")
	}
	if r.Reason == "" {
		t.Error("expected a reason naming the key dimension")
	}
}

func TestAcquireDeniesAtToolLimit(t *testing.T) {
	l := New(10, 1)
	l.Acquire("k1", "search")
	r := l.Acquire("k2", "search")
	if r.Acquired {
		t.Fatal("expected denial at tool inflight limit")
	}
}

func TestZeroLimitDisablesDimension(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 50; i++ {
		r := l.Acquire("k1", "search")
		if !r.Acquired {
			t.Fatalf("call %d should be allowed with both limits disabled", i)
		}
	}
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	l := New(1, 1)
	l.Release("k1", "search")
	l.Release("k1", "search")
	snap := l.Snapshot()
	if snap.ByKey["k1"] != 0 || snap.ByTool["search"] != 0 {
		t.Errorf("expected counters floored at 0, got %+v", snap)
	}
}

func TestSnapshotReflectsAcquireAndRelease(t *testing.T) {
	l := New(10, 10)
	l.Acquire("k1", "search")
	l.Acquire("k1", "search")
	snap := l.Snapshot()
	if snap.ByKey["k1"] != 2 {
		t.Errorf("expected byKey[k1]=2, got %d", snap.ByKey["k1"])
	}
	if snap.TotalInflight != 2 {
		t.Errorf("expected total inflight 2, got %d", snap.TotalInflight)
	}
	if snap.ByKeyTool["k1|search"] != 2 {
		t.Errorf("expected byKeyTool composite count 2, got %d", snap.ByKeyTool["k1|search"])
	}

	l.Release("k1", "search")
	snap = l.Snapshot()
	if snap.ByKey["k1"] != 1 {
		t.Errorf("expected byKey[k1]=1 after one release, got %d", snap.ByKey["k1"])
	}
}
