package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cloudcurio/kbsearch/internal/metrics"
)

const maxJWKSBody = 1 << 20

// ErrKeyNotFound means no key with the requested kid exists after any permitted refresh.
var ErrKeyNotFound = errors.New("auth: signing key not found")

// KeySource fetches the current JSON Web Key Set.
type KeySource interface {
	Fetch(ctx context.Context) (jose.JSONWebKeySet, error)
}

// HTTPKeySource fetches a JWKS document over HTTP.
type HTTPKeySource struct {
	url    string
	client *http.Client
}

// NewHTTPKeySource creates a key source for url. A nil client uses http.DefaultClient.
func NewHTTPKeySource(url string, client *http.Client) *HTTPKeySource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPKeySource{url: url, client: client}
}

// Fetch downloads and decodes the key set.
func (s *HTTPKeySource) Fetch(ctx context.Context) (jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("fetch jwks: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return jose.JSONWebKeySet{}, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBody)).Decode(&set); err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("decode jwks: %w", err)
	}
	return set, nil
}

type keySetEntry struct {
	fetchedAt time.Time
	keys      jose.JSONWebKeySet
}

// KeySetCache holds one process-wide JWKS entry.
// Reads are lock-free; refreshes are collapsed into a single in-flight fetch.
// An entry older than ttl is refetched on the next lookup. A kid miss forces one
// refetch, at most once per minRefresh, to pick up rotated keys. A kid miss on an
// entry fetched less than minRefresh ago is rejected with ErrKeyNotFound without
// contacting the source, so a key published right after a fetch is refused until
// the floor elapses.
type KeySetCache struct {
	src        KeySource
	ttl        time.Duration
	minRefresh time.Duration
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time

	entry atomic.Pointer[keySetEntry]
	group singleflight.Group
}

// NewKeySetCache creates a cache over src.
func NewKeySetCache(src KeySource, ttl, minRefresh, timeout time.Duration, logger *zap.Logger) *KeySetCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeySetCache{
		src:        src,
		ttl:        ttl,
		minRefresh: minRefresh,
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
	}
}

// Key returns the signing key for kid.
func (c *KeySetCache) Key(ctx context.Context, kid string) (*jose.JSONWebKey, error) {
	e := c.entry.Load()
	if e == nil || c.now().Sub(e.fetchedAt) >= c.ttl {
		refreshed, err := c.refresh(ctx, e)
		if err != nil {
			return nil, err
		}
		e = refreshed
	}

	if k := lookup(e, kid); k != nil {
		return k, nil
	}

	if c.now().Sub(e.fetchedAt) < c.minRefresh {
		return nil, ErrKeyNotFound
	}

	refreshed, err := c.refresh(ctx, e)
	if err != nil {
		return nil, err
	}
	if k := lookup(refreshed, kid); k != nil {
		return k, nil
	}
	return nil, ErrKeyNotFound
}

// refresh replaces seen with a freshly fetched entry. When another caller already
// replaced seen, that newer entry is returned without fetching again.
func (c *KeySetCache) refresh(ctx context.Context, seen *keySetEntry) (*keySetEntry, error) {
	v, err, _ := c.group.Do("jwks", func() (any, error) {
		if cur := c.entry.Load(); cur != nil && cur != seen && c.now().Sub(cur.fetchedAt) < c.ttl {
			return cur, nil
		}

		// The fetch outlives any single caller's cancellation; it serves every waiter.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		set, err := c.src.Fetch(fetchCtx)
		if err != nil {
			metrics.JWKSRefreshTotal.WithLabelValues("error").Inc()
			c.logger.Warn("jwks refresh failed", zap.Error(err))
			return nil, err
		}
		metrics.JWKSRefreshTotal.WithLabelValues("ok").Inc()

		e := &keySetEntry{fetchedAt: c.now(), keys: set}
		c.entry.Store(e)
		c.logger.Debug("jwks refreshed", zap.Int("keys", len(set.Keys)))
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("refresh jwks: %w", err)
	}
	return v.(*keySetEntry), nil //nolint:forcetypeassert // only *keySetEntry is returned above
}

func lookup(e *keySetEntry, kid string) *jose.JSONWebKey {
	for _, k := range e.keys.Key(kid) {
		if k.Use == "" || k.Use == "sig" {
			return &k
		}
	}
	return nil
}
