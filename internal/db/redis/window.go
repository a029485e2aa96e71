package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cloudcurio/kbsearch/internal/db"
)

// slideWindowScript keeps one sorted set of admission timestamps per key.
// KEYS[1] = window key; ARGV = now_ms, window_ms, member.
// Returns {count, oldest_score}.
const slideWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
redis.call('ZADD', key, now, ARGV[3])
redis.call('PEXPIRE', key, window)
local count = redis.call('ZCARD', key)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {count, oldest[2]}
`

// SlideWindow runs the sliding-window script in a single round-trip.
func (s *Store) SlideWindow(
	ctx context.Context, key string, nowMs, windowMs int64, member string,
) (db.WindowEntry, error) {
	args := []string{
		strconv.FormatInt(nowMs, 10),
		strconv.FormatInt(windowMs, 10),
		member,
	}

	raw, err := s.window.Exec(ctx, s.client, []string{key}, args).ToArray()
	if err != nil {
		return db.WindowEntry{}, &db.Error{Op: db.OpSlideWindow, Err: err}
	}
	if len(raw) != 2 {
		return db.WindowEntry{}, &db.Error{
			Op:  db.OpSlideWindow,
			Err: fmt.Errorf("unexpected reply length %d", len(raw)),
		}
	}

	count, err := raw[0].AsInt64()
	if err != nil {
		return db.WindowEntry{}, &db.Error{Op: db.OpSlideWindow, Err: fmt.Errorf("parse count: %w", err)}
	}
	oldestStr, err := raw[1].ToString()
	if err != nil {
		return db.WindowEntry{}, &db.Error{Op: db.OpSlideWindow, Err: fmt.Errorf("parse oldest: %w", err)}
	}
	oldest, err := strconv.ParseFloat(oldestStr, 64)
	if err != nil {
		return db.WindowEntry{}, &db.Error{Op: db.OpSlideWindow, Err: fmt.Errorf("parse oldest: %w", err)}
	}

	return db.WindowEntry{Count: count, OldestMs: int64(oldest)}, nil
}
