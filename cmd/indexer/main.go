package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/indexer/shard"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/searcher/executor"
	searchhandler "github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (defaults and SP_* env when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging)
	if err := run(cfg); err != nil {
		slog.Error("indexer service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer service stopped")
}

func run(cfg *config.Config) error {
	slog.Info("starting indexer service",
		"num_shards", cfg.Indexer.NumShards,
		"max_token_length", cfg.Indexer.MaxTokenLength,
		"fields", len(cfg.Schema.Fields),
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = shutdownMetrics(shutdownCtx)
		}()
	}

	router, err := shard.NewRouter(cfg.Indexer, cfg.Schema, m)
	if err != nil {
		return fmt.Errorf("creating shard router: %w", err)
	}
	defer func() {
		slog.Info("flushing all shards before shutdown")
		if err := router.Close(); err != nil {
			slog.Error("closing shards", "error", err)
		}
	}()
	for shardID, engine := range router.GetAllEngines() {
		engine.StartFlushLoop(ctx)
		slog.Debug("flush loop started", "shard_id", shardID)
	}

	checker := health.NewChecker(cfg.Server.ReadTimeout)
	checker.Register("index_engine", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d shards active", router.NumShards())}
	})

	var status consumer.StatusRecorder
	var pending publisher.PendingRecorder
	if cfg.Postgres.Host != "" {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		status, pending = db, db
		checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
			if err := db.DB.PingContext(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
		slog.Info("document status tracking enabled", "host", cfg.Postgres.Host)
	}

	var queryCache *cache.QueryCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, search caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		breaker := resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{})
		queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, breaker, m)
		checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
			if err := redisClient.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp, Message: "breaker " + breaker.State().String()}
		})
		slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	completeProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
	defer completeProducer.Close()
	ingestProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest)
	defer ingestProducer.Close()

	indexConsumer := consumer.New(kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.DocumentIngest,
		consumer.HandleMessageSharded(router, status, completeProducer),
	))

	shards := make(map[int]executor.Shard, router.NumShards())
	for id, engine := range router.GetAllEngines() {
		shards[id] = engine
	}
	search := searchhandler.New(
		executor.NewSharded(shards, cfg.Search.TimeoutPerShard),
		queryCache,
		searchhandler.Options{
			Schema:         cfg.Schema,
			MaxTokenLength: cfg.Indexer.MaxTokenLength,
			DefaultLimit:   cfg.Search.DefaultLimit,
			MaxResults:     cfg.Search.MaxResults,
		},
		m,
	)
	ingest := ingesthandler.New(
		publisher.New(pending, ingestProducer, router.NumShards(), router.ShardFor),
		cfg.Schema,
	)

	mux := http.NewServeMux()
	search.Register(mux)
	ingest.Register(mux)
	mux.HandleFunc("POST /api/v1/admin/flush", func(w http.ResponseWriter, r *http.Request) {
		if err := router.FlushAll(); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
	})
	mux.HandleFunc("POST /api/v1/admin/reload", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"segments_loaded": router.ReloadAll()})
	})
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: middleware.Chain(mux,
			middleware.RequestID,
			middleware.Metrics(m),
			middleware.Timeout(cfg.Server.WriteTimeout),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("consuming from kafka",
			"topic", cfg.Kafka.Topics.DocumentIngest,
			"group", cfg.Kafka.ConsumerGroup,
		)
		if err := indexConsumer.Start(gctx); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
