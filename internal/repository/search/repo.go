// Package search holds the RediSearch keyword and vector drivers over document hashes.
package search

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/cloudcurio/kbsearch/internal/db"
	domdoc "github.com/cloudcurio/kbsearch/internal/domain/document"
	"github.com/cloudcurio/kbsearch/internal/domain/record"
	"github.com/cloudcurio/kbsearch/internal/domain/search/result"
)

// textStore is the consumer interface for BM25 search (ISP).
type textStore interface {
	SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
}

// vectorStore is the consumer interface for KNN search and vector writes (ISP).
type vectorStore interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
}

// BM25Index is the "redis" keyword driver.
type BM25Index struct {
	store     textStore
	indexName string
	docPrefix string
}

// NewBM25Index creates a keyword driver over the document index.
func NewBM25Index(s textStore, indexName, keyPrefix string) *BM25Index {
	return &BM25Index{store: s, indexName: indexName, docPrefix: keyPrefix + record.Documents.KeySegment()}
}

// Name implements search.KeywordIndex.
func (i *BM25Index) Name() string { return "redis" }

// Search runs BM25 over title (weight 2) and text.
func (i *BM25Index) Search(ctx context.Context, query string, k int) ([]result.Scored, error) {
	sr, err := i.store.SearchBM25(ctx, &db.TextQuery{
		IndexName:    i.indexName,
		Query:        query,
		TopK:         k,
		ReturnFields: []string{domdoc.FieldTitle},
	})
	if err != nil {
		return nil, fmt.Errorf("search bm25 %s: %w", i.indexName, err)
	}
	return toScored(sr, i.docPrefix), nil
}

// Index is a no-op: RediSearch indexes the stored document hash itself.
func (i *BM25Index) Index(_ context.Context, _ *domdoc.Document) error { return nil }

// KNNIndex is the "redis" vector driver. Vectors live in the document hash.
type KNNIndex struct {
	store     vectorStore
	indexName string
	docPrefix string
}

// NewKNNIndex creates a vector driver over the document index.
func NewKNNIndex(s vectorStore, indexName, keyPrefix string) *KNNIndex {
	return &KNNIndex{store: s, indexName: indexName, docPrefix: keyPrefix + record.Documents.KeySegment()}
}

// Name implements search.VectorIndex.
func (i *KNNIndex) Name() string { return "redis" }

// Search returns the k nearest documents with cosine similarity scores.
func (i *KNNIndex) Search(ctx context.Context, vector []float32, k int) ([]result.Scored, error) {
	sr, err := i.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    i.indexName,
		Field:        VectorField,
		Vector:       vector,
		K:            k,
		ReturnFields: []string{domdoc.FieldTitle},
	})
	if err != nil {
		return nil, fmt.Errorf("search knn %s: %w", i.indexName, err)
	}
	return toScored(sr, i.docPrefix), nil
}

// Upsert writes the embedding into the document hash.
func (i *KNNIndex) Upsert(ctx context.Context, id string, vector []float32) error {
	key := i.docPrefix + id
	if err := i.store.HSet(ctx, key, map[string]string{VectorField: vectorToBytes(vector)}); err != nil {
		return fmt.Errorf("hset vector %s: %w", key, err)
	}
	return nil
}

// toScored strips the key prefix from each hit.
func toScored(sr *db.SearchResult, prefix string) []result.Scored {
	if sr == nil || len(sr.Entries) == 0 {
		return nil
	}
	out := make([]result.Scored, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		out = append(out, result.Scored{ID: strings.TrimPrefix(e.Key, prefix), RawScore: e.Score})
	}
	return out
}

// vectorToBytes serializes []float32 to the FLOAT32 little-endian blob RediSearch expects.
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
