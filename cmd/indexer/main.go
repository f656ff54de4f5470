package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/reindex"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/shard"
	ingest "github.com/Adithya-Monish-Kumar-K/searchindex/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/searchindex/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/resilience"
)

const statsInterval = 15 * time.Second

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg); err != nil {
		slog.Error("indexer service failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting indexer service",
		"port", cfg.Server.Port,
		"num_shards", cfg.Index.NumShards,
		"backend", cfg.Index.Backend,
		"flush_policy", cfg.Index.FlushPolicy,
	)

	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port, reg)
		go func() {
			slog.Info("metrics server listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		}()
		defer shutdown(metricsServer, cfg.Server.ShutdownTimeout)
	}

	router, err := shard.NewRouter(cfg.Index, m.Index, logger.WithComponent("index"))
	if err != nil {
		return fmt.Errorf("creating shard router: %w", err)
	}
	defer func() {
		slog.Info("draining shard queues")
		if err := router.Close(); err != nil {
			slog.Error("closing shards", "error", err)
		}
	}()
	m.ActiveShards.Set(float64(router.NumShards()))

	checker := health.NewChecker(5 * time.Second)
	checker.Register("index", health.Critical(func(context.Context) error {
		_, err := router.Stats()
		return err
	}))

	var (
		redisClient *pkgredis.Client
		lease       reindex.Lease
		store       cache.Store
	)
	if cfg.Redis.Addr != "" {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching and reindex lease disabled", "error", err)
		} else {
			defer redisClient.Close()
			lease, store = redisClient, redisClient
			checker.Register("redis", health.Optional(redisClient.Ping))
			slog.Info("redis connected", "addr", cfg.Redis.Addr, "cache_ttl", cfg.Redis.CacheTTL)
		}
	}

	var (
		documents *postgres.DocumentStore
		status    consumer.StatusStore
	)
	if cfg.Postgres.Host != "" {
		pg, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, document status and reindex disabled", "error", err)
		} else {
			defer pg.Close()
			documents = postgres.NewDocumentStore(pg.DB)
			if err := documents.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("preparing documents table: %w", err)
			}
			status = documents
			checker.Register("postgres", health.Critical(pg.Ping))
		}
	}

	var reindexer handler.Reindexer
	if documents != nil {
		reindexer = reindex.New(documents, router, cfg.Reindex, lease, m.Index, logger.WithComponent("reindex"))
	}

	exec := executor.New(executor.FromManagers(router.Managers()), executor.Config{
		Fields:          cfg.Search.Fields,
		IDField:         router.Schema().IDField,
		TimeoutPerShard: cfg.Search.TimeoutPerShard,
	})
	queryCache := cache.New(store, cache.Options{
		TTL:     cfg.Redis.CacheTTL,
		Breaker: resilience.BreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second},
		Hits:    m.CacheHitsTotal,
		Misses:  m.CacheMissesTotal,
	})
	h := handler.New(handler.Options{
		Executor:     exec,
		Cache:        queryCache,
		Reindexer:    reindexer,
		Analyzer:     router.Analyzer(),
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxResults:   cfg.Search.MaxResults,
		Metrics:      m,
		BaseContext:  ctx,
	})

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health", checker.LiveHandler())
	mux.HandleFunc("GET /ready", checker.ReadyHandler())

	var wg sync.WaitGroup
	stack := []func(http.Handler) http.Handler{middleware.RequestID, middleware.Logging, middleware.Metrics(m)}
	if cfg.Server.RateLimit > 0 {
		limiter := middleware.NewClientLimiter(cfg.Server.RateLimit, cfg.Server.RateLimitBurst, 10*time.Minute)
		stack = append(stack, middleware.RateLimit(limiter))
		wg.Add(1)
		go func() {
			defer wg.Done()
			limiter.SweepEvery(ctx, time.Minute)
		}()
	}
	stack = append(stack, middleware.Timeout(cfg.Server.WriteTimeout))

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topics.Mutations != "" {
		mutations := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Mutations)
		defer mutations.Close()
		shardOf := func(id string) string { return router.Route(id).Name() }
		ingest.New(mutations, shardOf, router.Schema().IDField, resilience.RetryConfig{}, logger.WithComponent("ingestion")).Register(mux)

		source := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Mutations)
		defer source.Close()
		opts := consumer.Options{
			Config:  cfg.Consumer,
			Status:  status,
			Metrics: m,
			Logger:  logger.WithComponent("index-consumer"),
		}
		if cfg.Kafka.Topics.IndexComplete != "" {
			producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
			defer producer.Close()
			opts.Publisher = producer
		}
		c := consumer.New(source, router, opts)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				slog.Error("index consumer stopped", "error", err)
			}
		}()
		slog.Info("consuming mutations", "topic", cfg.Kafka.Topics.Mutations, "group", cfg.Kafka.ConsumerGroup)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		reportShardStats(ctx, router, m)
	}()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, stack...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout + time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
		stop()
	}

	shutdown(server, cfg.Server.ShutdownTimeout)
	h.Wait()
	wg.Wait()
	slog.Info("indexer service stopped")
	return runErr
}

func reportShardStats(ctx context.Context, router *shard.Router, m *metrics.Metrics) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		stats, err := router.Stats()
		if err != nil {
			slog.Warn("reading shard stats", "error", err)
		}
		for _, s := range stats {
			m.ShardDocCount.WithLabelValues(s.Name).Set(float64(s.NumDocs))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func shutdown(server *http.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server shutdown", "addr", server.Addr, "error", err)
	}
}
