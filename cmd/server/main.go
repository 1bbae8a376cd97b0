package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/tvh0522/mintbay/internal/adapter/events"
	"github.com/tvh0522/mintbay/internal/adapter/handler"
	"github.com/tvh0522/mintbay/internal/adapter/oracle"
	"github.com/tvh0522/mintbay/internal/adapter/storage"
	"github.com/tvh0522/mintbay/internal/config"
	"github.com/tvh0522/mintbay/internal/core/domain"
	"github.com/tvh0522/mintbay/internal/core/service"
	"github.com/tvh0522/mintbay/internal/logging"
	"github.com/tvh0522/mintbay/internal/metrics"
	"github.com/tvh0522/mintbay/internal/port"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.ServiceName, cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store: MySQL when a DSN is configured, in-memory otherwise.
	var store port.Store = storage.NewMemoryStore()
	var db *sql.DB
	if cfg.MySQL.DSN != "" {
		db, err = sql.Open("mysql", cfg.MySQL.DSN)
		if err != nil {
			logger.Error("failed to open mysql", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

		if err := db.PingContext(ctx); err != nil {
			logger.Error("failed to ping mysql", "error", err)
			os.Exit(1)
		}
		if err := storage.Migrate(db); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		store = storage.NewMySQLAdapter(db)
		logger.Info("connected to mysql")
	} else {
		logger.Warn("no mysql dsn configured, using in-memory store")
	}

	// Cache: optional Redis for idempotency keys and edition mirrors.
	var cache port.CacheRepository
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect redis", "error", err)
			os.Exit(1)
		}
		cache = storage.NewRedisAdapter(rdb)
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	// Proof oracle: external endpoint when configured, simulated otherwise.
	var proofOracle port.ProofOracle = oracle.NewSimulated()
	if cfg.Oracle.URL != "" {
		proofOracle = oracle.NewHTTPClient(cfg.Oracle.URL, cfg.Oracle.Timeout)
		logger.Info("using external proof oracle", "url", cfg.Oracle.URL)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	engine := service.NewEngine(store, proofOracle, cache, logger, m, cfg.Engine.QueueSize)
	engine.SetLockWait(cfg.Engine.LockWait)

	// Publisher: optional Kafka activity feed.
	var publisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.Error("failed to create kafka publisher", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// Workers drain the settlement feed into the activity topic.
	var wg sync.WaitGroup
	for i := 0; i < cfg.Engine.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			feedWorker(id, engine.SettlementFeed(), publisher, logger)
		}(i)
	}
	logger.Info("started feed workers", "count", cfg.Engine.WorkerCount)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	handler.NewHTTPHandler(engine).Routes(r)
	r.Method(http.MethodGet, cfg.MetricsPath, metrics.Handler(registry))

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("http server stopped")

	engine.Close()
	wg.Wait()
	logger.Info("feed workers stopped")

	if publisher != nil {
		publisher.Close()
	}
	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	logger.Info("connections closed")
}

func feedWorker(id int, feed <-chan domain.Transaction, publisher port.EventPublisher, logger *slog.Logger) {
	for tx := range feed {
		if publisher == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := publisher.PublishTransaction(ctx, tx); err != nil {
			logger.Warn("failed to publish transaction event",
				"worker", id, "transaction_id", tx.ID, "error", err)
		}
		cancel()
	}
}
