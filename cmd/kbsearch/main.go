package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cloudcurio/kbsearch/internal/auth"
	"github.com/cloudcurio/kbsearch/internal/config"
	"github.com/cloudcurio/kbsearch/internal/db"
	dbRedis "github.com/cloudcurio/kbsearch/internal/db/redis"
	logpkg "github.com/cloudcurio/kbsearch/internal/logger"
	"github.com/cloudcurio/kbsearch/internal/metrics"
	"github.com/cloudcurio/kbsearch/internal/ratelimit"
	recordrepo "github.com/cloudcurio/kbsearch/internal/repository/record"
	chiTransport "github.com/cloudcurio/kbsearch/internal/transport/chi"
	documentuc "github.com/cloudcurio/kbsearch/internal/usecase/document"
	exportuc "github.com/cloudcurio/kbsearch/internal/usecase/export"
	gateuc "github.com/cloudcurio/kbsearch/internal/usecase/gate"
	healthuc "github.com/cloudcurio/kbsearch/internal/usecase/health"
	searchuc "github.com/cloudcurio/kbsearch/internal/usecase/search"
	"github.com/cloudcurio/kbsearch/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting kbsearch API server",
		zap.String("version", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("keyword_driver", cfg.Keyword.Driver),
		zap.String("vector_driver", cfg.Vector.Driver),
		zap.String("embedding_provider", cfg.Embedding.Provider),
	)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server stopped gracefully")
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	store, err := dbRedis.NewStore(dbRedis.Config{
		URL:      cfg.Database.URL,
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		return fmt.Errorf("create database store: %w", err)
	}
	defer store.Close()

	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}
	logger.Info("Connected to database")

	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterRetrievalMetrics()

	docEmbedder, queryEmbedder, embedHealth := buildEmbedders(cfg, store, logger)

	if usesRediSearch(cfg) {
		if err := ensureRediSearchIndex(ctx, cfg, store, logger); err != nil {
			return err
		}
	}

	keyword, err := buildKeyword(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer keyword.close()

	vector, err := buildVector(ctx, cfg, store)
	if err != nil {
		return err
	}
	logger.Info("Retrieval drivers ready",
		zap.String("keyword", keyword.index.Name()),
		zap.String("vector", vector.index.Name()),
	)

	records := recordrepo.New(store, cfg.Storage.KeyPrefix)

	searchSvc := searchuc.New(
		searchuc.NewKeywordBackend(keyword.index, time.Duration(cfg.Keyword.TimeoutSec)*time.Second, logger),
		searchuc.NewVectorBackend(queryEmbedder, vector.index, time.Duration(cfg.Vector.TimeoutSec)*time.Second, logger),
		cfg.Search.MaxTopK,
	)
	docSvc := documentuc.New(records, keyword.index, vector.index, docEmbedder, logger)
	if keyword.ephemeral {
		n, err := docSvc.ReindexKeyword(ctx, cfg.Export.DefaultPageSize)
		if err != nil {
			return fmt.Errorf("rebuild keyword index: %w", err)
		}
		logger.Info("Keyword index rebuilt from record store", zap.Int("documents", n))
	}
	exportSvc := exportuc.New(records, cfg.Export.DefaultPageSize, cfg.Export.MaxPageSize)

	checks := []healthuc.Check{healthuc.PingCheck("database", store), healthuc.EmbeddingCheck(embedHealth)}
	if keyword.pinger != nil {
		checks = append(checks, healthuc.PingCheck("keyword", keyword.pinger))
	}
	if vector.pinger != nil {
		checks = append(checks, healthuc.PingCheck("vector", vector.pinger))
	}
	healthSvc := healthuc.New(healthuc.DefaultCheckTimeout, checks...)

	gate, err := buildGate(cfg, store, logger)
	if err != nil {
		return err
	}

	server := chiTransport.NewServer(searchSvc, docSvc, exportSvc, healthSvc, cfg.Search.DefaultTopK)
	clientKeys, err := chiTransport.NewClientKeyResolver(cfg.HTTP.Proxies())
	if err != nil {
		return fmt.Errorf("http.trusted_proxies: %w", err)
	}
	router := chiTransport.NewRouter(server, gate, chiTransport.RouterConfig{
		AllowOrigins: cfg.HTTP.Origins(),
		ClientKeys:   clientKeys,
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-quit:
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	return nil
}

func buildGate(cfg config.Config, store db.WindowCounter, logger *zap.Logger) (*gateuc.Service, error) {
	fetchTimeout := time.Duration(cfg.Auth.TimeoutSec) * time.Second
	keys := auth.NewKeySetCache(
		auth.NewHTTPKeySource(cfg.Auth.JWKSURL, &http.Client{Timeout: fetchTimeout}),
		time.Duration(cfg.Auth.CacheTTLSec)*time.Second,
		time.Duration(cfg.Auth.MinRefreshSec)*time.Second,
		fetchTimeout,
		logger,
	)
	authenticator, err := auth.NewAuthenticator(keys, auth.Config{
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		Algorithms: cfg.Auth.Algorithms,
		Leeway:     time.Duration(cfg.Auth.LeewaySec) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create authenticator: %w", err)
	}

	var window db.WindowCounter = store
	if cfg.RateLimit.Driver == "memory" {
		window = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.New(window, cfg.Storage.KeyPrefix, cfg.RateLimit.FailOpen, logger)

	return gateuc.New(authenticator, limiter, cfg.RateLimit.Limit, time.Duration(cfg.RateLimit.WindowSec)*time.Second), nil
}
