package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/searchbridge/internal/config"
	"github.com/kailas-cloud/searchbridge/internal/content"
	"github.com/kailas-cloud/searchbridge/internal/engine"
	enginememory "github.com/kailas-cloud/searchbridge/internal/engine/memory"
	"github.com/kailas-cloud/searchbridge/internal/engine/redisearch"
	"github.com/kailas-cloud/searchbridge/internal/engine/typesense"
	"github.com/kailas-cloud/searchbridge/internal/indexing"
	logpkg "github.com/kailas-cloud/searchbridge/internal/logger"
	"github.com/kailas-cloud/searchbridge/internal/mapper"
	"github.com/kailas-cloud/searchbridge/internal/metrics"
	"github.com/kailas-cloud/searchbridge/internal/queue"
	indexrepo "github.com/kailas-cloud/searchbridge/internal/repository/index"
	chiTransport "github.com/kailas-cloud/searchbridge/internal/transport/chi"
	openaiEmb "github.com/kailas-cloud/searchbridge/internal/transport/openai"
	"github.com/kailas-cloud/searchbridge/internal/version"
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

	logger.Info("Starting searchbridge",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("store_addrs", cfg.Store.Addrs),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterIndexingMetrics()

	// Index configuration store
	store, err := indexrepo.NewRedisStore(indexrepo.StoreConfig{
		Addrs:    cfg.Store.Addrs,
		Username: cfg.Store.Username,
		Password: cfg.Store.Password,
		DB:       cfg.Store.DB,
	})
	if err != nil {
		logger.Fatal("Failed to create config store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		logger.Fatal("Config store not reachable", zap.Error(err))
	}
	logger.Info("Connected to config store")

	repo := indexrepo.New(store).WithOverrides(cfg.Engines)

	// Content repository client
	contentRepo := content.NewHTTPRepository(cfg.Content.BaseURL, cfg.Content.Token, logger)

	// Embedding provider, shared by vector-capable adapters
	var embedder engine.Embedder
	if cfg.Embedding.APIKey != "" {
		embedder = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Provider:   cfg.Embedding.Provider,
			Logger:     logger,
		})
		logger.Info("Embedder created",
			zap.String("provider", cfg.Embedding.Provider),
			zap.String("model", cfg.Embedding.Model),
		)
	}

	// Engine adapter registry
	registry := engine.NewRegistry()
	registry.Register("redisearch", redisearch.Factory)
	registry.Register("typesense", typesense.Factory)
	registry.Register("memory", enginememory.Factory(enginememory.New(
		enginememory.WithAliases(),
		enginememory.WithEmbedder(embedder),
	)))
	logger.Info("Engines registered", zap.Strings("types", registry.Types()))

	// Mapper with role cache
	roles, err := mapper.NewRoleCache()
	if err != nil {
		logger.Fatal("Failed to create role cache", zap.Error(err))
	}
	mp := mapper.New(contentRepo, roles, logger)

	// Task queue
	var tasks queue.Queue
	switch cfg.Queue.Driver {
	case "nats":
		tasks, err = queue.NewNATS(cfg.Queue.URL, logger)
		if err != nil {
			logger.Fatal("Failed to connect task queue", zap.Error(err))
		}
	default:
		tasks = queue.NewMemory()
	}
	defer func() { _ = tasks.Close() }()

	// Orchestrator and worker
	orch := indexing.New(indexing.Config{
		Store:     repo,
		Repo:      contentRepo,
		Resolver:  mp,
		Adapters:  registry,
		Deps:      engine.Deps{Embedder: embedder, Logger: logger},
		Tasks:     tasks,
		BatchSize: cfg.Sync.BatchSize,
		Logger:    logger,
	})

	worker := indexing.NewWorker(orch, tasks, logger)
	if err := worker.Start(); err != nil {
		logger.Fatal("Failed to start worker", zap.Error(err))
	}
	defer func() { _ = worker.Stop() }()

	// HTTP server
	server := chiTransport.NewServer(repo, orch, mp, roles, store, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}
