package document

import (
	"context"

	"github.com/cloudcurio/kbsearch/internal/domain"
	domdoc "github.com/cloudcurio/kbsearch/internal/domain/document"
	"github.com/cloudcurio/kbsearch/internal/domain/record"
)

// Repository is the primary record store.
type Repository interface {
	Put(ctx context.Context, rec record.Record) (created bool, err error)
	GetDocument(ctx context.Context, id string) (domdoc.Document, error)
	Page(ctx context.Context, kind record.Kind, offset, limit int) ([]record.Record, bool, error)
}

// KeywordIndexer makes a stored document searchable by the keyword driver.
type KeywordIndexer interface {
	Index(ctx context.Context, doc *domdoc.Document) error
}

// VectorUpserter writes the document vector into the vector driver.
type VectorUpserter interface {
	Upsert(ctx context.Context, docID string, vector []float32) error
}

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
