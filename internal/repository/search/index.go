package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudcurio/kbsearch/internal/db"
	domdoc "github.com/cloudcurio/kbsearch/internal/domain/document"
	"github.com/cloudcurio/kbsearch/internal/domain/record"
)

// VectorField is the hash field holding the document embedding.
const VectorField = "__vector"

// TitleWeight boosts title matches over body matches, as title^2 does in the keyword engines.
const TitleWeight = 2

// IndexOptions configures the document FT index.
type IndexOptions struct {
	Name      string
	KeyPrefix string
	VectorDim int // 0 leaves the vector field out of the schema
	Flat      bool // brute-force KNN instead of HNSW; exact but linear in corpus size
	HNSWM     int
	HNSWEF    int
}

// BuildIndex creates the FT definition over document hashes.
func BuildIndex(opts IndexOptions) (*db.IndexDefinition, error) {
	b := db.NewIndex(opts.Name).
		Prefix(opts.KeyPrefix+record.Documents.KeySegment()).
		TextWeighted(domdoc.FieldTitle, TitleWeight).
		Text(domdoc.FieldText).
		Tag(domdoc.FieldLanguage)
	switch {
	case opts.VectorDim <= 0:
	case opts.Flat:
		b = b.VectorFlat(VectorField, opts.VectorDim, db.DistanceCosine)
	default:
		b = b.VectorHNSW(VectorField, opts.VectorDim, db.DistanceCosine, opts.HNSWM, opts.HNSWEF)
	}
	def, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build index %s: %w", opts.Name, err)
	}
	return def, nil
}

// EnsureIndex creates the index unless it already exists.
func EnsureIndex(ctx context.Context, mgr db.IndexManager, def *db.IndexDefinition) error {
	exists, err := mgr.IndexExists(ctx, def.Name)
	if err != nil {
		return fmt.Errorf("check index %s: %w", def.Name, err)
	}
	if exists {
		return nil
	}
	if err := mgr.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", def.Name, err)
	}
	return nil
}
