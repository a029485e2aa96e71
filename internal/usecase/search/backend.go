package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cloudcurio/kbsearch/internal/domain"
	"github.com/cloudcurio/kbsearch/internal/domain/search/result"
	"github.com/cloudcurio/kbsearch/internal/logger"
	"github.com/cloudcurio/kbsearch/internal/metrics"
)

// DefaultBackendTimeout bounds a single backend call when none is configured.
const DefaultBackendTimeout = 15 * time.Second

const (
	backendKeyword = "keyword"
	backendVector  = "vector"
)

// KeywordBackend adapts a KeywordIndex driver to the Retriever boundary.
type KeywordBackend struct {
	index   KeywordIndex
	timeout time.Duration
	logger  *zap.Logger
}

// NewKeywordBackend creates a keyword adapter. timeout <= 0 uses DefaultBackendTimeout.
func NewKeywordBackend(index KeywordIndex, timeout time.Duration, logger *zap.Logger) *KeywordBackend {
	if timeout <= 0 {
		timeout = DefaultBackendTimeout
	}
	return &KeywordBackend{index: index, timeout: timeout, logger: logger}
}

// Query runs the keyword search. Any driver failure yields an empty list.
func (b *KeywordBackend) Query(ctx context.Context, text string, k int) []result.Scored {
	if k <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	items, err := b.index.Search(ctx, text, k)
	return settle(ctx, b.logger, backendKeyword, b.index.Name(), start, items, err)
}

// VectorBackend embeds the query and adapts a VectorIndex driver to the Retriever boundary.
type VectorBackend struct {
	embed   Embedder
	index   VectorIndex
	timeout time.Duration
	logger  *zap.Logger
}

// NewVectorBackend creates a vector adapter. timeout <= 0 uses DefaultBackendTimeout.
// The timeout covers both the query embedding and the similarity search.
func NewVectorBackend(embed Embedder, index VectorIndex, timeout time.Duration, logger *zap.Logger) *VectorBackend {
	if timeout <= 0 {
		timeout = DefaultBackendTimeout
	}
	return &VectorBackend{embed: embed, index: index, timeout: timeout, logger: logger}
}

// Query embeds text and runs the similarity search. Embedding or driver failures yield an empty list.
func (b *VectorBackend) Query(ctx context.Context, text string, k int) []result.Scored {
	if k <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	emb, err := b.embed.Embed(ctx, text)
	if err != nil {
		return settle(ctx, b.logger, backendVector, b.index.Name(), start, nil, fmt.Errorf("embed query: %w", err))
	}
	domain.UsageFromContext(ctx).AddTokens(emb.TotalTokens)

	items, err := b.index.Search(ctx, emb.Embedding, k)
	return settle(ctx, b.logger, backendVector, b.index.Name(), start, items, err)
}

// settle records the call outcome and collapses failures to an empty list.
func settle(
	ctx context.Context, fallback *zap.Logger,
	backend, driver string, start time.Time,
	items []result.Scored, err error,
) []result.Scored {
	metrics.BackendRequestDuration.WithLabelValues(backend, driver).Observe(time.Since(start).Seconds())

	if err != nil {
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		metrics.BackendRequestsTotal.WithLabelValues(backend, driver, status).Inc()
		logger.Or(ctx, fallback).Warn("retrieval backend failed, continuing without it",
			zap.String("backend", backend),
			zap.String("driver", driver),
			zap.Error(err),
		)
		return nil
	}

	metrics.BackendRequestsTotal.WithLabelValues(backend, driver, "ok").Inc()
	metrics.BackendHits.WithLabelValues(backend).Observe(float64(len(items)))
	return items
}
