package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cloudcurio/kbsearch/internal/config"
	"github.com/cloudcurio/kbsearch/internal/db"
	"github.com/cloudcurio/kbsearch/internal/domain"
	"github.com/cloudcurio/kbsearch/internal/metrics"
	"github.com/cloudcurio/kbsearch/internal/repository/bleveindex"
	"github.com/cloudcurio/kbsearch/internal/repository/embcache"
	"github.com/cloudcurio/kbsearch/internal/repository/opensearch"
	"github.com/cloudcurio/kbsearch/internal/repository/qdrant"
	searchrepo "github.com/cloudcurio/kbsearch/internal/repository/search"
	openaiEmb "github.com/cloudcurio/kbsearch/internal/transport/openai"
	documentuc "github.com/cloudcurio/kbsearch/internal/usecase/document"
	embeddinguc "github.com/cloudcurio/kbsearch/internal/usecase/embedding"
	healthuc "github.com/cloudcurio/kbsearch/internal/usecase/health"
	searchuc "github.com/cloudcurio/kbsearch/internal/usecase/search"
)

// keywordDriver is a keyword engine that can also index documents.
type keywordDriver interface {
	searchuc.KeywordIndex
	documentuc.KeywordIndexer
}

// vectorDriver is a vector engine that can also store document vectors.
type vectorDriver interface {
	searchuc.VectorIndex
	documentuc.VectorUpserter
}

type keywordEngine struct {
	index  keywordDriver
	pinger healthuc.Pinger // nil when the engine lives in the shared store
	close  func()
	// ephemeral engines start empty and are rebuilt from the record store.
	ephemeral bool
}

type vectorEngine struct {
	index  vectorDriver
	pinger healthuc.Pinger
}

func usesRediSearch(cfg config.Config) bool {
	return cfg.Keyword.Driver == "redis" || cfg.Vector.Driver == "redis"
}

func ensureRediSearchIndex(ctx context.Context, cfg config.Config, store db.IndexManager, logger *zap.Logger) error {
	opts := searchrepo.IndexOptions{
		Name:      cfg.Index.Name,
		KeyPrefix: cfg.Storage.KeyPrefix,
		Flat:      cfg.Index.Algorithm == "flat",
		HNSWM:     cfg.Index.HNSWM,
		HNSWEF:    cfg.Index.HNSWEFConstruct,
	}
	if cfg.Vector.Driver == "redis" {
		opts.VectorDim = cfg.Embedding.Dimensions
	}
	def, err := searchrepo.BuildIndex(opts)
	if err != nil {
		return err //nolint:wrapcheck // already carries the index name
	}
	logger.Debug("Ensuring search index", zap.Stringer("schema", def))
	if err := searchrepo.EnsureIndex(ctx, store, def); err != nil {
		return fmt.Errorf("ensure search index: %w", err)
	}
	return nil
}

func buildKeyword(ctx context.Context, cfg config.Config, store db.Store) (keywordEngine, error) {
	switch cfg.Keyword.Driver {
	case "opensearch":
		idx, err := opensearch.New(opensearch.Config{
			URL:                cfg.Keyword.OpenSearch.URL,
			Index:              cfg.Keyword.OpenSearch.Index,
			Username:           cfg.Keyword.OpenSearch.Username,
			Password:           cfg.Keyword.OpenSearch.Password,
			InsecureSkipVerify: cfg.Keyword.OpenSearch.InsecureSkipVerify,
		})
		if err != nil {
			return keywordEngine{}, fmt.Errorf("create opensearch driver: %w", err)
		}
		if err := idx.EnsureIndex(ctx); err != nil {
			return keywordEngine{}, fmt.Errorf("ensure opensearch index: %w", err)
		}
		return keywordEngine{index: idx, pinger: idx, close: func() {}}, nil

	case "bleve":
		var (
			idx *bleveindex.Index
			err error
		)
		if cfg.Keyword.Bleve.Path == "" {
			idx, err = bleveindex.NewMemory()
		} else {
			idx, err = bleveindex.Open(cfg.Keyword.Bleve.Path)
		}
		if err != nil {
			return keywordEngine{}, fmt.Errorf("create bleve driver: %w", err)
		}
		return keywordEngine{
			index:     idx,
			pinger:    idx,
			close:     func() { _ = idx.Close() },
			ephemeral: cfg.Keyword.Bleve.Path == "",
		}, nil

	default:
		idx := searchrepo.NewBM25Index(store, cfg.Index.Name, cfg.Storage.KeyPrefix)
		return keywordEngine{index: idx, close: func() {}}, nil
	}
}

func buildVector(ctx context.Context, cfg config.Config, store db.Store) (vectorEngine, error) {
	if cfg.Vector.Driver != "qdrant" {
		return vectorEngine{index: searchrepo.NewKNNIndex(store, cfg.Index.Name, cfg.Storage.KeyPrefix)}, nil
	}

	idx, err := qdrant.New(qdrant.Config{
		URL:        cfg.Vector.Qdrant.URL,
		Collection: cfg.Vector.Qdrant.Collection,
		APIKey:     cfg.Vector.Qdrant.APIKey,
	})
	if err != nil {
		return vectorEngine{}, fmt.Errorf("create qdrant driver: %w", err)
	}
	if err := idx.EnsureCollection(ctx, cfg.Embedding.Dimensions); err != nil {
		return vectorEngine{}, fmt.Errorf("ensure qdrant collection: %w", err)
	}
	return vectorEngine{index: idx, pinger: idx}, nil
}

// buildEmbedders assembles the decorator chain: provider -> Cached -> Instrumented -> Instruction.
// The returned checker pings the shared base chain.
func buildEmbedders(cfg config.Config, store db.KVStore, logger *zap.Logger) (doc, query domain.Embedder, checker healthuc.EmbeddingChecker) {
	ec := cfg.Embedding
	provider, model := ec.Provider, ec.OpenAI.Model

	var base domain.Embedder
	switch provider {
	case "openai":
		base = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     ec.OpenAI.APIKey,
			BaseURL:    ec.OpenAI.BaseURL,
			Model:      model,
			Dimensions: ec.Dimensions,
			Provider:   provider,
			Logger:     logger,
		})
		if ec.Cache {
			base = embcache.New(base, store, embcache.Options{
				KeyPrefix: cfg.Storage.KeyPrefix,
				Namespace: fmt.Sprintf("%s:%s:%d", provider, model, ec.Dimensions),
				TTL:       embcache.DefaultTTL,
			}, metrics.EmbeddingCacheTotal, logger)
		}
	default:
		model = "trigram-hash"
		base = domain.NewHashingEmbedder(ec.Dimensions)
	}

	instrumented := embeddinguc.NewInstrumentedEmbedder(base, provider, model, ec.Dimensions, logger)

	// Instruction prefix (outermost - cache key includes instruction)
	wrap := func(instruction string) domain.Embedder {
		if instruction == "" {
			return instrumented
		}
		return domain.NewInstructionEmbedder(instrumented, instruction)
	}
	return wrap(ec.DocumentInstruction), wrap(ec.QueryInstruction), instrumented
}
