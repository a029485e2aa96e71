package document

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cloudcurio/kbsearch/internal/domain"
	domdoc "github.com/cloudcurio/kbsearch/internal/domain/document"
	"github.com/cloudcurio/kbsearch/internal/domain/record"
	"github.com/cloudcurio/kbsearch/internal/logger"
	"github.com/cloudcurio/kbsearch/internal/metrics"
)

// Service ingests knowledge-base records.
//
// A document is embedded first, then stored, then pushed to the keyword and
// vector drivers. Store failures are returned as-is; embedding and indexing
// failures are wrapped with domain.ErrBackendUnavailable. The stored record is
// kept when a later step fails, so a retry of the same document converges.
type Service struct {
	repo     Repository
	keyword  KeywordIndexer
	vector   VectorUpserter
	embedder Embedder
	logger   *zap.Logger
}

// New creates an ingestion service.
func New(repo Repository, keyword KeywordIndexer, vector VectorUpserter, embedder Embedder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, keyword: keyword, vector: vector, embedder: embedder, logger: logger}
}

// IngestDocument stores and indexes a document. Returns true if it was new.
func (s *Service) IngestDocument(ctx context.Context, doc *domdoc.Document) (bool, error) {
	created, err := s.ingestDocument(ctx, doc)
	s.observe(ctx, record.Documents, doc.ID(), err)
	return created, err
}

func (s *Service) ingestDocument(ctx context.Context, doc *domdoc.Document) (bool, error) {
	emb, err := s.embedder.Embed(ctx, doc.EmbeddingText())
	if err != nil {
		return false, fmt.Errorf("embed document: %w: %w", domain.ErrBackendUnavailable, err)
	}
	domain.UsageFromContext(ctx).AddTokens(emb.TotalTokens)

	created, err := s.repo.Put(ctx, doc.Record())
	if err != nil {
		return false, fmt.Errorf("store document: %w", err)
	}

	if err := s.keyword.Index(ctx, doc); err != nil {
		return created, fmt.Errorf("keyword index: %w: %w", domain.ErrBackendUnavailable, err)
	}
	if err := s.vector.Upsert(ctx, doc.ID(), emb.Embedding); err != nil {
		return created, fmt.Errorf("vector upsert: %w: %w", domain.ErrBackendUnavailable, err)
	}
	return created, nil
}

// GetDocument returns a stored document. Errors: domain.ErrNotFound.
func (s *Service) GetDocument(ctx context.Context, id string) (domdoc.Document, error) {
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

// ReindexKeyword replays every stored document into the keyword driver,
// pageSize records at a time, and returns how many were indexed.
// It stops at the first indexing error.
func (s *Service) ReindexKeyword(ctx context.Context, pageSize int) (int, error) {
	if pageSize <= 0 {
		return 0, fmt.Errorf("invalid page size %d", pageSize)
	}
	indexed := 0
	for offset := 0; ; offset += pageSize {
		recs, more, err := s.repo.Page(ctx, record.Documents, offset, pageSize)
		if err != nil {
			return indexed, fmt.Errorf("page documents at %d: %w", offset, err)
		}
		for _, rec := range recs {
			doc := domdoc.Reconstruct(rec.ID, rec.Fields)
			if err := s.keyword.Index(ctx, &doc); err != nil {
				return indexed, fmt.Errorf("keyword index %s: %w", rec.ID, err)
			}
			indexed++
		}
		if !more {
			return indexed, nil
		}
	}
}

// PutRecord stores an entity or relation record. Returns true if it was new.
func (s *Service) PutRecord(ctx context.Context, rec record.Record) (bool, error) {
	if rec.Kind == record.Documents {
		return false, domain.NewValidation("kind", "documents must be ingested through IngestDocument")
	}
	created, err := s.repo.Put(ctx, rec)
	if err != nil {
		err = fmt.Errorf("store %s: %w", rec.Kind, err)
	}
	s.observe(ctx, rec.Kind, rec.ID, err)
	return created, err
}

func (s *Service) observe(ctx context.Context, kind record.Kind, id string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		logger.Or(ctx, s.logger).Warn("ingest failed",
			zap.String("kind", string(kind)),
			zap.String("id", id),
			zap.Error(err),
		)
	}
	metrics.IngestTotal.WithLabelValues(string(kind), status).Inc()
}
