package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hoferino/manda-platform-sub000/cache"
	"github.com/hoferino/manda-platform-sub000/config"
	"github.com/hoferino/manda-platform-sub000/hook"
	"github.com/hoferino/manda-platform-sub000/internal/metrics"
	"github.com/hoferino/manda-platform-sub000/internal/server"
	"github.com/hoferino/manda-platform-sub000/internal/telemetry"
	"github.com/hoferino/manda-platform-sub000/intent"
	"github.com/hoferino/manda-platform-sub000/isolation"
	"github.com/hoferino/manda-platform-sub000/retrieval"
	"github.com/hoferino/manda-platform-sub000/tokenizer"
)

// Server bundles the wired pipeline behind the HTTP lifecycle manager.
type Server struct {
	manager *server.Manager
	logger  *zap.Logger
}

// NewServer wires every collaborator from config: token counter, cache
// tiers, retrieval backends, classifier, isolator and hook.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	collector := metrics.NewCollector("manda", logger)
	counter := tokenizer.NewCounter(cfg.Tokenizer.Encoding)

	contexts := buildCache[string](cfg, cfg.Cache.Contexts, "retrieval_context", logger)
	toolResults := buildCache[isolation.Record](cfg, cfg.Cache.ToolResults, "tool_results", logger)
	contexts.SetMetrics(collector)
	toolResults.SetMetrics(collector)

	primary, err := buildBackend("primary", cfg.Retrieval.Primary, logger)
	if err != nil {
		return nil, err
	}
	fallback, err := buildBackend("fallback", cfg.Retrieval.Fallback, logger)
	if err != nil {
		return nil, err
	}

	retriever, err := retrieval.NewHybridRetriever(retrieval.Config{
		NumResults:         cfg.Retrieval.NumResults,
		ScoreThreshold:     cfg.Retrieval.ScoreThreshold,
		PrimaryTimeout:     cfg.Retrieval.Primary.Timeout,
		FallbackTimeout:    cfg.Retrieval.Fallback.Timeout,
		SlowQueryThreshold: cfg.Retrieval.SlowQueryThreshold,
	}, primary, fallback, logger)
	if err != nil {
		return nil, fmt.Errorf("build retriever: %w", err)
	}
	retriever.SetMetrics(collector)

	classifier, err := intent.NewClassifier(intent.DefaultPatterns(), logger)
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}

	registry := isolation.NewFormatterRegistry()
	registry.RegisterTool("search_knowledge", isolation.CategoryKnowledgeSearch)
	registry.RegisterTool("create_question", isolation.CategoryMutation)
	registry.RegisterTool("update_finding", isolation.CategoryMutation)
	registry.RegisterTool("list_categories", isolation.CategoryList)
	registry.RegisterTool("list_documents", isolation.CategoryList)
	isolator := isolation.NewIsolator(toolResults, registry, counter, logger)

	h, err := hook.New(hook.Config{
		TokenBudget:          cfg.Hook.TokenBudget,
		NumResults:           cfg.Retrieval.NumResults,
		LatencyWarnThreshold: cfg.Hook.LatencyWarnThreshold,
	}, classifier, cache.NewTopicKeyer(), contexts, retriever, counter, logger)
	if err != nil {
		return nil, fmt.Errorf("build hook: %w", err)
	}

	router := server.NewRouter(h, isolator, contexts, toolResults, collector, logger)

	manager := server.NewManager(router, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     server.DefaultConfig().IdleTimeout,
		MaxHeaderBytes:  server.DefaultConfig().MaxHeaderBytes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	return &Server{manager: manager, logger: logger}, nil
}

// buildCache constructs one cache instance, attaching the Redis tier
// only when enabled. A disabled remote tier must pass an untyped nil so
// the cache treats it as absent.
func buildCache[T any](cfg *config.Config, tier config.CacheTierConfig, name string, logger *zap.Logger) *cache.KeyedCache[T] {
	cacheCfg := cache.DefaultConfig(name)
	cacheCfg.DefaultTTL = tier.TTL
	cacheCfg.MaxEntries = tier.MaxEntries

	if !cfg.Redis.Enabled {
		return cache.New[T](cacheCfg, nil, logger)
	}

	client := cache.NewRedisClient(cache.RedisConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	store := cache.NewRedisStore(client, name, tier.MaxEntries, logger)
	return cache.New[T](cacheCfg, store, logger)
}

// buildBackend constructs one retrieval tier. Without a base URL the
// tier runs on the in-memory backend, which only holds what a dev
// session feeds it.
func buildBackend(name string, cfg config.BackendConfig, logger *zap.Logger) (retrieval.SearchBackend, error) {
	if cfg.BaseURL == "" {
		logger.Warn("retrieval tier has no base_url, using in-memory backend",
			zap.String("tier", name))
		return retrieval.NewMemoryBackend(name, logger), nil
	}

	backend, err := retrieval.NewHTTPBackend(retrieval.HTTPBackendConfig{
		Name:      name,
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimitRPS,
		RateBurst: cfg.RateLimitBurst,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build %s backend: %w", name, err)
	}
	return backend, nil
}

// Start begins serving in the background.
func (s *Server) Start() error {
	return s.manager.Start()
}

// WaitForShutdown blocks until a signal or serve error, then drains the
// server and flushes telemetry.
func (s *Server) WaitForShutdown(providers *telemetry.Providers) {
	s.manager.WaitForShutdown()

	if err := providers.Shutdown(context.Background()); err != nil {
		s.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
}
