package search

import (
	"context"

	"github.com/cloudcurio/kbsearch/internal/domain"
	"github.com/cloudcurio/kbsearch/internal/domain/search/result"
)

// KeywordIndex is a keyword engine driver (OpenSearch, bleve, RediSearch BM25).
type KeywordIndex interface {
	Search(ctx context.Context, query string, k int) ([]result.Scored, error)
	// Name is the driver name used in logs and metrics.
	Name() string
}

// VectorIndex is a vector engine driver (Qdrant, RediSearch KNN).
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, k int) ([]result.Scored, error)
	Name() string
}

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Retriever is the adapter boundary seen by the orchestrator.
// Query never fails: backend errors surface as an empty list.
type Retriever interface {
	Query(ctx context.Context, text string, k int) []result.Scored
}
