package ratelimit

import (
	"testing"
	"time"
)

func TestConsume_BoundaryThenDeny(t *testing.T) {
	l := New()
	req := Request{Key: "chat:203.0.113.10", Limit: 30, Window: 10 * time.Minute, Weight: 30}

	res := l.Consume(req)
	if !res.Allowed {
		t.Fatalf("first consume with weight=limit: Allowed = false, want true")
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}

	req.Weight = 1
	res = l.Consume(req)
	if res.Allowed {
		t.Fatal("second consume: Allowed = true, want false")
	}
	if res.RetryAfterSec < 1 {
		t.Errorf("RetryAfterSec = %d, want >= 1", res.RetryAfterSec)
	}
}

func TestConsume_MisconfigurationFailsOpen(t *testing.T) {
	l := New()
	cases := []Request{
		{Key: "", Limit: 10, Window: time.Minute},
		{Key: "k", Limit: 0, Window: time.Minute},
		{Key: "k", Limit: 10, Window: 0},
	}
	for _, req := range cases {
		res := l.Consume(req)
		if !res.Allowed {
			t.Errorf("Consume(%+v).Allowed = false, want true", req)
		}
		if res.RetryAfterSec != 0 {
			t.Errorf("Consume(%+v).RetryAfterSec = %d, want 0", req, res.RetryAfterSec)
		}
	}
}

func TestConsume_WindowReset(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithClock(func() time.Time { return now })
	req := Request{Key: "k", Limit: 2, Window: time.Minute, Weight: 1}

	l.Consume(req)
	l.Consume(req)
	if res := l.Consume(req); res.Allowed {
		t.Fatal("third consume within window allowed, want denied")
	}

	now = now.Add(61 * time.Second)
	if res := l.Consume(req); !res.Allowed {
		t.Fatal("consume after window reset denied, want allowed")
	}
}

func TestConsume_DistinctKeysIndependent(t *testing.T) {
	l := New()
	a := Request{Key: "a", Limit: 1, Window: time.Minute, Weight: 1}
	b := Request{Key: "b", Limit: 1, Window: time.Minute, Weight: 1}

	if !l.Consume(a).Allowed {
		t.Fatal("first consume on a denied")
	}
	if l.Consume(a).Allowed {
		t.Fatal("second consume on a allowed")
	}
	if !l.Consume(b).Allowed {
		t.Fatal("first consume on b denied")
	}
}

func TestConsume_EvictsExpiredBuckets(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithClock(func() time.Time { return now })

	for i := 0; i < maxBuckets+10; i++ {
		l.Consume(Request{Key: string(rune(i)) + "-key", Limit: 5, Window: time.Second, Weight: 1})
	}
	now = now.Add(2 * time.Second)
	l.Consume(Request{Key: "fresh", Limit: 5, Window: time.Minute, Weight: 1})

	l.mu.Lock()
	population := len(l.buckets)
	l.mu.Unlock()
	if population > 2 {
		t.Errorf("bucket population after eviction = %d, want <= 2", population)
	}
}
