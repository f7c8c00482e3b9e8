package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter() (*MemoryLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter()
	l.now = clock.Now
	return l, clock
}

func TestMemoryLimiter_BurstThenDeny(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := l.Allow(ctx, "ip:10.0.0.1", 5, time.Minute)
		if err != nil || !res.Allowed {
			t.Fatalf("request %d: (%+v, %v), want allowed", i, res, err)
		}
		if res.Remaining != 4-i {
			t.Errorf("request %d: remaining = %d, want %d", i, res.Remaining, 4-i)
		}
	}

	res, _ := l.Allow(ctx, "ip:10.0.0.1", 5, time.Minute)
	if res.Allowed {
		t.Fatal("6th request should be denied")
	}
	// 5 per minute refills one token every 12s
	if res.RetryAfter <= 0 || res.RetryAfter > 12*time.Second {
		t.Errorf("RetryAfter = %v, want (0, 12s]", res.RetryAfter)
	}
}

func TestMemoryLimiter_Refill(t *testing.T) {
	l, clock := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		l.Allow(ctx, "k", 2, time.Second)
	}
	if res, _ := l.Allow(ctx, "k", 2, time.Second); res.Allowed {
		t.Fatal("expected denial after burst")
	}

	clock.Advance(500 * time.Millisecond)
	if res, _ := l.Allow(ctx, "k", 2, time.Second); !res.Allowed {
		t.Error("expected a token after half a window")
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	l.Allow(ctx, "user:alice", 1, time.Minute)
	if res, _ := l.Allow(ctx, "user:alice", 1, time.Minute); res.Allowed {
		t.Error("alice should be throttled")
	}
	if res, _ := l.Allow(ctx, "user:bob", 1, time.Minute); !res.Allowed {
		t.Error("bob should not share alice's bucket")
	}
}

func TestMemoryLimiter_LimitChangeCapsTokens(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	l.Allow(ctx, "k", 10, time.Minute)
	res, _ := l.Allow(ctx, "k", 2, time.Minute)
	if !res.Allowed || res.Remaining != 1 {
		t.Errorf("after shrinking: %+v, want allowed with 1 remaining", res)
	}
}

func TestMemoryLimiter_SweepsIdleKeys(t *testing.T) {
	l, clock := newTestLimiter()
	ctx := context.Background()

	l.Allow(ctx, "a", 3, time.Minute)
	l.Allow(ctx, "b", 3, time.Minute)
	clock.Advance(2 * time.Minute)
	l.Allow(ctx, "c", 3, time.Minute)

	if got := l.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1 after sweep", got)
	}
}

func TestMemoryLimiter_NonPositiveLimitAllows(t *testing.T) {
	l, _ := newTestLimiter()
	res, err := l.Allow(context.Background(), "k", 0, time.Minute)
	if err != nil || !res.Allowed {
		t.Errorf("(%+v, %v), want allowed", res, err)
	}
}

func TestMemoryLimiter_ConcurrentAccess(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				res, _ := l.Allow(ctx, "shared", 100, time.Hour)
				if res.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 100 {
		t.Errorf("allowed = %d, want exactly 100", allowed)
	}
}
