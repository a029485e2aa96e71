package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/cloudcurio/kbsearch/internal/db"
	"github.com/cloudcurio/kbsearch/internal/db/redis"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type failingStore struct{}

func (failingStore) SlideWindow(context.Context, string, int64, int64, string) (db.WindowEntry, error) {
	return db.WindowEntry{}, errors.New("connection refused")
}

func newTestLimiter(store db.WindowCounter, failOpen bool) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	l := New(store, "kb:", failOpen, nil)
	l.now = clock.Now
	return l, clock
}

func TestAllow_SlidingWindow(t *testing.T) {
	l, clock := newTestLimiter(NewMemoryStore(), false)
	ctx := context.Background()

	// limit=3, window=10s: requests at t=0, 1, 2 pass, t=3 is rejected.
	for i := range 3 {
		d, err := l.Allow(ctx, "10.0.0.1", 3, 10*time.Second)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed, count=%d", i, d.Count)
		}
		clock.Advance(time.Second)
	}

	d, _ := l.Allow(ctx, "10.0.0.1", 3, 10*time.Second)
	if d.Allowed {
		t.Fatal("4th request inside the window must be rejected")
	}
	if d.Count != 4 {
		t.Errorf("expected count 4, got %d", d.Count)
	}
	// Oldest entry (t=0) expires at t=10; now is t=3.
	if d.RetryAfter != 7*time.Second {
		t.Errorf("expected Retry-After 7s, got %v", d.RetryAfter)
	}

	// Other clients are unaffected.
	if d, _ := l.Allow(ctx, "10.0.0.2", 3, 10*time.Second); !d.Allowed {
		t.Error("independent client must be allowed")
	}

	// Once the whole window has slid past, the client is admitted again.
	clock.Advance(10*time.Second + time.Millisecond)
	if d, _ := l.Allow(ctx, "10.0.0.1", 3, 10*time.Second); !d.Allowed {
		t.Errorf("request after window should be allowed, count=%d", d.Count)
	}
}

func TestAllow_RejectedRequestsCount(t *testing.T) {
	l, clock := newTestLimiter(NewMemoryStore(), false)
	ctx := context.Background()

	for range 5 {
		_, _ = l.Allow(ctx, "c", 2, 10*time.Second)
		clock.Advance(time.Second)
	}
	// t=5: entries at 0..4 are all inside the window.
	d, _ := l.Allow(ctx, "c", 2, 10*time.Second)
	if d.Allowed || d.Count != 6 {
		t.Errorf("expected rejection with count 6, got %+v", d)
	}
}

func TestAllow_FailClosed(t *testing.T) {
	l, _ := newTestLimiter(failingStore{}, false)

	d, err := l.Allow(context.Background(), "c", 10, time.Minute)
	if err != nil {
		t.Fatalf("store failures must not surface as errors: %v", err)
	}
	if d.Allowed {
		t.Error("expected rejection when failing closed")
	}
	if d.RetryAfter < time.Second {
		t.Errorf("expected Retry-After >= 1s, got %v", d.RetryAfter)
	}
}

func TestAllow_FailOpen(t *testing.T) {
	l, _ := newTestLimiter(failingStore{}, true)

	d, err := l.Allow(context.Background(), "c", 10, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Error("expected admission when failing open")
	}
}

func TestAllow_InvalidArguments(t *testing.T) {
	l, _ := newTestLimiter(NewMemoryStore(), false)

	if _, err := l.Allow(context.Background(), "c", 0, time.Minute); err == nil {
		t.Error("expected error for zero limit")
	}
	if _, err := l.Allow(context.Background(), "c", 1, 0); err == nil {
		t.Error("expected error for zero window")
	}
}

func TestAllow_RedisStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	var key string
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "EVALSHA" || cmd[0] == "EVAL"
		})).
		DoAndReturn(func(_ context.Context, cmd rueidis.Completed) rueidis.RedisResult {
			key = cmd.Commands()[3]
			return mock.Result(mock.RedisArray(
				mock.RedisInt64(121),
				mock.RedisBlobString("1699999990000"),
			))
		})

	l, _ := newTestLimiter(redis.NewStoreForTest(c), false)
	d, err := l.Allow(context.Background(), "203.0.113.7", 120, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "kb:rl:203.0.113.7" {
		t.Errorf("unexpected window key %q", key)
	}
	if d.Allowed {
		t.Error("121st request must be rejected")
	}
	// Oldest at now-10s with a 60s window -> 50s.
	if d.RetryAfter != 50*time.Second {
		t.Errorf("expected Retry-After 50s, got %v", d.RetryAfter)
	}
}

func TestRetryAfter_RoundsUpAndFloors(t *testing.T) {
	tests := []struct {
		oldest, now int64
		window      time.Duration
		want        time.Duration
	}{
		{0, 0, 10 * time.Second, 10 * time.Second},
		{0, 9500, 10 * time.Second, time.Second},
		{0, 8200, 10 * time.Second, 2 * time.Second},
		{0, 20000, 10 * time.Second, time.Second},
	}
	for _, tc := range tests {
		if got := retryAfter(tc.oldest, tc.window, tc.now); got != tc.want {
			t.Errorf("retryAfter(%d, %v, %d) = %v, want %v", tc.oldest, tc.window, tc.now, got, tc.want)
		}
	}
}

func TestMemoryStore_ConcurrentCount(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.SlideWindow(context.Background(), "k", 1000, 60000, "m")
		}()
	}
	wg.Wait()

	e, _ := s.SlideWindow(context.Background(), "k", 1000, 60000, "m")
	if e.Count != 51 {
		t.Errorf("expected 51 entries, got %d", e.Count)
	}
}

func TestMemoryStore_ExpiresKeys(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, _ = s.SlideWindow(ctx, "old", 0, 1000, "m")
	for i := 1; i < sweepEvery; i++ {
		_, _ = s.SlideWindow(ctx, "hot", int64(5000+i), 1000, "m")
	}
	if s.Len() != 1 {
		t.Errorf("expected expired key to be swept, have %d keys", s.Len())
	}
}
