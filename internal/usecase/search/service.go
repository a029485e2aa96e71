package search

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/cloudcurio/kbsearch/internal/domain/search/request"
	"github.com/cloudcurio/kbsearch/internal/domain/search/result"
)

// Response is the outcome of one hybrid search.
type Response struct {
	Query       string
	Results     []result.Fused
	KeywordHits int
	VectorHits  int
}

// Service runs keyword and vector retrieval concurrently and fuses the two rankings.
type Service struct {
	keyword Retriever
	vector  Retriever
	maxTopK int
}

// New creates a search service. maxTopK <= 0 uses request.MaxTopK.
func New(keyword, vector Retriever, maxTopK int) *Service {
	return &Service{keyword: keyword, vector: vector, maxTopK: maxTopK}
}

// Search validates the query, fans out to both backends and returns the fused top-K.
// Backend failures never fail the search; they only shrink the candidate set.
func (s *Service) Search(ctx context.Context, query string, topK int) (Response, error) {
	req, err := request.New(query, topK, s.maxTopK)
	if err != nil {
		return Response{}, err //nolint:wrapcheck // validation error is client-facing as is
	}

	var kw, vec []result.Scored
	var g errgroup.Group
	g.Go(func() error {
		kw = s.keyword.Query(ctx, req.Query(), req.TopK())
		return nil
	})
	g.Go(func() error {
		vec = s.vector.Query(ctx, req.Query(), req.TopK())
		return nil
	})
	_ = g.Wait()

	return Response{
		Query:       req.Query(),
		Results:     Fuse(Normalize(kw), Normalize(vec), req.TopK()),
		KeywordHits: len(kw),
		VectorHits:  len(vec),
	}, nil
}
