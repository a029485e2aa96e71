// Package ratelimit implements a sliding-window request limiter over a shared store.
package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloudcurio/kbsearch/internal/db"
	"github.com/cloudcurio/kbsearch/internal/logger"
	"github.com/cloudcurio/kbsearch/internal/metrics"
)

// storeFailureRetry is the Retry-After hint when the store is unavailable and the limiter fails closed.
const storeFailureRetry = time.Second

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Count      int64 // requests inside the window, including this one
	Limit      int
	RetryAfter time.Duration // set when !Allowed, at least one second
}

// Limiter admits at most limit requests per client within any trailing window.
// Rejected requests are recorded too, so a client that keeps hammering stays limited.
type Limiter struct {
	store     db.WindowCounter
	keyPrefix string
	failOpen  bool
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Limiter. With failOpen, store errors admit the request; otherwise they reject it.
func New(store db.WindowCounter, keyPrefix string, failOpen bool, log *zap.Logger) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{
		store:     store,
		keyPrefix: keyPrefix,
		failOpen:  failOpen,
		logger:    log,
		now:       time.Now,
	}
}

// Allow records one request for clientKey and reports whether it fits in the window.
// The returned error is only for invalid arguments; store failures are resolved by the fail-open policy.
func (l *Limiter) Allow(ctx context.Context, clientKey string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{}, errors.New("limit must be positive")
	}
	if window < time.Millisecond {
		return Decision{}, errors.New("window must be at least 1ms")
	}

	now := l.now()
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	entry, err := l.store.SlideWindow(ctx, l.keyPrefix+"rl:"+clientKey, nowMs, window.Milliseconds(), member)
	if err != nil {
		metrics.RateLimitDecisionsTotal.WithLabelValues("store_error").Inc()
		log := logger.Or(ctx, l.logger)
		if l.failOpen {
			log.Warn("rate limit store unavailable, admitting request", zap.Error(err))
			return Decision{Allowed: true, Limit: limit}, nil
		}
		log.Error("rate limit store unavailable, rejecting request", zap.Error(err))
		return Decision{Allowed: false, Limit: limit, RetryAfter: storeFailureRetry}, nil
	}

	d := Decision{Allowed: entry.Count <= int64(limit), Count: entry.Count, Limit: limit}
	if d.Allowed {
		metrics.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
		return d, nil
	}

	metrics.RateLimitDecisionsTotal.WithLabelValues("rejected").Inc()
	d.RetryAfter = retryAfter(entry.OldestMs, window, nowMs)
	return d, nil
}

// retryAfter is the time until the oldest window entry ages out, rounded up to whole seconds.
func retryAfter(oldestMs int64, window time.Duration, nowMs int64) time.Duration {
	wait := time.Duration(oldestMs+window.Milliseconds()-nowMs) * time.Millisecond
	secs := (wait + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}
