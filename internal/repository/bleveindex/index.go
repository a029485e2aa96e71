// Package bleveindex is the in-process "bleve" keyword driver.
package bleveindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/index/scorch"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	domdoc "github.com/cloudcurio/kbsearch/internal/domain/document"
	"github.com/cloudcurio/kbsearch/internal/domain/search/result"
)

// titleBoost mirrors the title^2 weighting of the other keyword drivers.
const titleBoost = 2.0

// Index is a bleve index of documents.
type Index struct {
	idx bleve.Index
}

// NewMemory creates an empty in-memory index.
func NewMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	return &Index{idx: idx}, nil
}

// Open opens the scorch index at path, creating it when absent.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == nil {
		return &Index{idx: idx}, nil
	}
	if !errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return nil, fmt.Errorf("open bleve index %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	idx, err = bleve.NewUsing(path, buildMapping(), scorch.Name, scorch.Name, nil)
	if err != nil {
		return nil, fmt.Errorf("create bleve index %s: %w", path, err)
	}
	return &Index{idx: idx}, nil
}

func buildMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	doc.AddFieldMappingsAt(domdoc.FieldTitle, bleve.NewTextFieldMapping())
	doc.AddFieldMappingsAt(domdoc.FieldText, bleve.NewTextFieldMapping())

	for _, f := range []string{domdoc.FieldSourceURI, domdoc.FieldPublishedAt, domdoc.FieldLanguage} {
		kw := bleve.NewKeywordFieldMapping()
		kw.IncludeInAll = false
		doc.AddFieldMappingsAt(f, kw)
	}

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Name implements search.KeywordIndex.
func (i *Index) Name() string { return "bleve" }

// Search matches the query against title (boosted) or text.
func (i *Index) Search(ctx context.Context, text string, k int) ([]result.Scored, error) {
	title := bleve.NewMatchQuery(text)
	title.SetField(domdoc.FieldTitle)
	title.SetBoost(titleBoost)

	body := bleve.NewMatchQuery(text)
	body.SetField(domdoc.FieldText)

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery([]query.Query{title, body}...), k, 0, false)

	res, err := i.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	out := make([]result.Scored, 0, len(res.Hits))
	for _, h := range res.Hits {
		out = append(out, result.Scored{ID: h.ID, RawScore: h.Score})
	}
	return out, nil
}

// Index adds or replaces the document.
func (i *Index) Index(_ context.Context, doc *domdoc.Document) error {
	if err := i.idx.Index(doc.ID(), doc.Fields()); err != nil {
		return fmt.Errorf("bleve index %s: %w", doc.ID(), err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (i *Index) Count() (uint64, error) {
	n, err := i.idx.DocCount()
	if err != nil {
		return 0, fmt.Errorf("bleve doc count: %w", err)
	}
	return n, nil
}

// Ping reports whether the index is usable.
func (i *Index) Ping(_ context.Context) error {
	_, err := i.Count()
	return err
}

// Close releases the index.
func (i *Index) Close() error {
	return i.idx.Close() //nolint:wrapcheck // passthrough
}
