// Package app initializes and holds the long-lived application services,
// acting as a dependency injection container. It is built once at startup
// from the loaded configuration and torn down on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadsniffer/internal/api"
	"github.com/JakeFAU/leadsniffer/internal/clock/system"
	"github.com/JakeFAU/leadsniffer/internal/config"
	"github.com/JakeFAU/leadsniffer/internal/crawler"
	"github.com/JakeFAU/leadsniffer/internal/dispatcher"
	"github.com/JakeFAU/leadsniffer/internal/fetch"
	"github.com/JakeFAU/leadsniffer/internal/id/uuid"
	"github.com/JakeFAU/leadsniffer/internal/metrics"
	"github.com/JakeFAU/leadsniffer/internal/pipeline"
	qmemory "github.com/JakeFAU/leadsniffer/internal/queue/memory"
	qredis "github.com/JakeFAU/leadsniffer/internal/queue/redis"
	"github.com/JakeFAU/leadsniffer/internal/ratelimit"
	"github.com/JakeFAU/leadsniffer/internal/scheduler"
	"github.com/JakeFAU/leadsniffer/internal/scrape/catalog"
	smemory "github.com/JakeFAU/leadsniffer/internal/storage/memory"
	"github.com/JakeFAU/leadsniffer/internal/storage/postgres"
	"github.com/JakeFAU/leadsniffer/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App holds all the shared, long-lived services for the service binary.
// It is initialized once at startup and passed to the commands that need it.
type App struct {
	Config config.Config
	Logger *zap.Logger

	Configs crawler.ConfigStore
	Jobs    crawler.JobStore
	Leads   crawler.LeadStore
	Logs    crawler.LogStore

	Queue      crawler.Queue
	Dispatcher *dispatcher.Dispatcher
	Scheduler  *scheduler.Scheduler
	Server     *api.Server

	closers []func() error
}

// New builds the full service graph from the configuration. It fails fast
// if any backend (postgres, redis) cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{Config: cfg, Logger: logger}
	clock := system.New()
	ids := uuid.New()

	if err := a.initStores(ctx, cfg, ids, clock); err != nil {
		return nil, err
	}

	redisClient, err := a.redisClient(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	var windows ratelimit.WindowStore
	if cfg.RateLimit.Provider == "redis" {
		logger.Info("using redis rate limit windows", zap.String("addr", cfg.RateLimit.RedisAddr))
		windows = ratelimit.NewRedisWindowStoreWithClient(redisClient)
	} else {
		windows = ratelimit.NewMemoryWindowStore()
	}
	limiters := ratelimit.NewDomainLimiters(cfg.RateLimit.DefaultRPM, windows, clock, logger.Named("ratelimit"))

	if cfg.Queue.Provider == "redis" {
		logger.Info("using redis job queue", zap.String("key", cfg.Queue.RedisKey))
		a.Queue = qredis.NewQueue(redisClient, cfg.Queue.RedisKey)
	} else {
		memQueue := qmemory.NewQueue(cfg.Worker.QueueDepth)
		a.closers = append(a.closers, func() error {
			memQueue.Close()
			return nil
		})
		a.Queue = memQueue
	}

	registry := catalog.NewRegistry()
	fetcher := fetch.New(fetch.Config{
		Timeout:         cfg.HTTP.Timeout(),
		MaxRetries:      cfg.HTTP.MaxRetries,
		RetryDelay:      cfg.HTTP.RetryDelay(),
		RetryBackoff:    cfg.HTTP.RetryBackoff,
		RotateUserAgent: cfg.HTTP.RotateUserAgent,
		Proxies:         cfg.HTTP.Proxies,
		VerifySSL:       cfg.HTTP.VerifySSL,
		FollowRedirects: cfg.HTTP.FollowRedirects,
		MaxRedirects:    cfg.HTTP.MaxRedirects,
	}, logger.Named("fetch"))

	pipe := pipeline.New(fetcher, limiters, a.Leads, a.Logs, clock, logger.Named("pipeline"))

	workerCfg := worker.Config{
		MaxRetries: cfg.Worker.MaxRetries,
		RetryDelay: cfg.Worker.RetryDelay(),
	}
	workers := make([]*worker.Worker, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			a.Queue, a.Jobs, a.Configs, a.Logs, registry, pipe, clock, workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.Dispatcher = dispatcher.New(a.Queue, workers)
	a.Scheduler = scheduler.New(a.Configs, a.Jobs, a.Queue, clock, logger.Named("scheduler"))
	a.Server = api.NewServer(
		a.Configs, a.Jobs, a.Logs, a.Leads, a.Dispatcher, registry,
		clock, cfg.RateLimit.DefaultRPM, logger.Named("api"),
	)
	return a, nil
}

func (a *App) initStores(ctx context.Context, cfg config.Config, ids crawler.IDGenerator, clock crawler.Clock) error {
	switch cfg.Storage.Provider {
	case "postgres":
		a.Logger.Info("connecting to postgres")
		pool, err := postgres.Connect(ctx, postgres.Config{
			DSN:      cfg.Storage.DSN,
			MaxConns: int32(cfg.Storage.MaxOpenConns),
		})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return fmt.Errorf("ensure schema: %w", err)
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		a.Configs = postgres.NewConfigStore(pool, ids, clock)
		a.Jobs = postgres.NewJobStore(pool, ids, clock)
		a.Leads = postgres.NewLeadStore(pool, ids, clock)
		a.Logs = postgres.NewLogStore(pool)
	default:
		a.Logger.Info("using in-memory stores, data will not survive restarts")
		a.Configs = smemory.NewConfigStore(ids, clock)
		a.Jobs = smemory.NewJobStore(ids, clock)
		a.Leads = smemory.NewLeadStore(ids, clock)
		a.Logs = smemory.NewLogStore()
	}
	return nil
}

// redisClient connects lazily: a client is only created when the rate
// limiter or the queue asks for one, and both share it.
func (a *App) redisClient(ctx context.Context, cfg config.Config) (redis.UniversalClient, error) {
	if cfg.RateLimit.Provider != "redis" && cfg.Queue.Provider != "redis" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RateLimit.RedisAddr,
		Password: cfg.RateLimit.RedisPassword,
		DB:       cfg.RateLimit.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	return client, nil
}

// Run starts the dispatcher, the scheduler when enabled, and the HTTP
// server, then blocks until the context is cancelled and everything has
// drained.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:           a.Server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		a.Logger.Info("dispatcher started", zap.Int("workers", a.Config.Worker.Concurrency))
		a.Dispatcher.Run(ctx)
	}()

	if a.Config.Scheduler.Enabled {
		if err := a.Scheduler.Start(ctx, a.Config.Scheduler.CronSpec); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		a.Logger.Info("http server started", zap.Int("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
		cancel()
	}
	a.Logger.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("server shutdown error", zap.Error(err))
	}
	if a.Config.Scheduler.Enabled {
		select {
		case <-a.Scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			a.Logger.Warn("scheduler did not drain before the shutdown deadline")
		}
	}
	<-dispatcherDone
	a.Logger.Info("shutdown complete")
	return runErr
}

// Close tears down backend connections in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
