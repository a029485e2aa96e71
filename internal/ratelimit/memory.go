package ratelimit

import (
	"context"
	"sync"

	"github.com/cloudcurio/kbsearch/internal/db"
)

// Compile-time check: MemoryStore implements db.WindowCounter.
var _ db.WindowCounter = (*MemoryStore)(nil)

const sweepEvery = 1024

type window struct {
	scores    []int64 // ascending
	expiresAt int64
}

// MemoryStore is a process-local db.WindowCounter for single-instance deployments and tests.
type MemoryStore struct {
	mu    sync.Mutex
	keys  map[string]*window
	calls int
}

// NewMemoryStore creates an empty in-memory window store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*window)}
}

// SlideWindow implements db.WindowCounter. Members are not stored; only their scores matter here.
func (m *MemoryStore) SlideWindow(
	_ context.Context, key string, nowMs, windowMs int64, _ string,
) (db.WindowEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.calls%sweepEvery == 0 {
		m.sweep(nowMs)
	}

	w := m.keys[key]
	if w == nil || w.expiresAt <= nowMs {
		w = &window{}
		m.keys[key] = w
	}

	cutoff := nowMs - windowMs
	i := 0
	for i < len(w.scores) && w.scores[i] <= cutoff {
		i++
	}
	w.scores = append(w.scores[i:], nowMs)
	w.expiresAt = nowMs + windowMs

	return db.WindowEntry{Count: int64(len(w.scores)), OldestMs: w.scores[0]}, nil
}

// Len reports the number of tracked keys.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

func (m *MemoryStore) sweep(nowMs int64) {
	for k, w := range m.keys {
		if w.expiresAt <= nowMs {
			delete(m.keys, k)
		}
	}
}
