// Package main is the entry point for the back-office API server.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	appctx "backoffice/internal/core/context"
	"backoffice/internal/core/idempotency"
	"backoffice/internal/domain/catalogs/warehouse"
	"backoffice/internal/domain/registers/stock"
	"backoffice/internal/infrastructure/cache"
	"backoffice/internal/infrastructure/event"
	v1 "backoffice/internal/infrastructure/http/v1"
	"backoffice/internal/infrastructure/http/v1/handlers"
	"backoffice/internal/infrastructure/metrics"
	"backoffice/internal/infrastructure/websocket"
	"backoffice/pkg/config"
	"backoffice/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Development: cfg.App.IsDevelopment(),
		App:         cfg.App.Name,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	if err := run(ctx, cfg, log); err != nil {
		log.Errorw("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Infow("starting backoffice server", "version", version, "env", cfg.App.Env, "storage", cfg.Database.Driver)

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// --- Storage ---
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { store.close() }()

	// --- Domain ---
	bus := event.NewBus(log.Desugar().Named("bus"), event.WithDeliveryRecorder(m))
	warehouses := warehouse.NewService(store.warehouses, store.txManager, cfg.Stock.DefaultWarehouse)
	stockService := stock.NewService(
		store.movements,
		store.balances,
		warehouses,
		store.txManager,
		stock.WithPublisher(bus),
		stock.WithRecorder(m),
		stock.WithNumerator(store.numbers),
	)

	if w, err := warehouses.ResolveDefault(ctx); err != nil {
		log.Warnw("no default warehouse; requests without a warehouse will be rejected", "error", err)
	} else {
		log.Infow("default warehouse resolved", "warehouse", w.Name, "id", w.ID)
	}

	// --- Observers ---
	hub := websocket.NewHub(m)
	defer hub.Forward(bus, stock.Channels()...)()

	itemStock, err := newItemStockCache(ctx, cfg, stockService, store)
	if err != nil {
		return err
	}
	defer event.SubscribeRefresh(bus, itemStock.Refresh, stock.Channels()...)()

	// --- HTTP ---
	var idem idempotency.Store
	if cfg.Idempotency.Enabled {
		idem = store.idempotency
	}

	router := v1.NewRouter(v1.RouterConfig{
		Logger:         log,
		Stock:          stockService,
		Warehouses:     warehouses,
		ItemStock:      itemStock,
		Hub:            hub,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Idempotency:    idem,
		Health:         handlers.NewHealthHandler(cfg.App.Name, version, cfg.Database.Driver, store.checks, healthInfo(store, hub)),
		Metrics:        m,
		Debug:          cfg.App.IsDevelopment(),
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("start bus: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		// Clients that missed an event catch up on the next tick, but only
		// while someone is looking.
		(&event.IntervalRefresher{
			Interval: cfg.Stock.SyncRefreshInterval,
			Refresh:  hub.Refresh,
			Active:   hub.AnyVisible,
		}).Run(gctx)
		return nil
	})

	g.Go(func() error {
		(&event.IntervalRefresher{
			Interval: cfg.Stock.SyncRefreshInterval,
			Refresh:  itemStock.Refresh,
		}).Run(gctx)
		return nil
	})

	g.Go(func() error {
		runPeriodic(gctx, "drift_check", cfg.Stock.DriftCheckInterval, func(ctx context.Context) {
			checkDrift(ctx, stockService)
		})
		return nil
	})

	if idem != nil {
		g.Go(func() error {
			runPeriodic(gctx, "idempotency_cleanup", cfg.Idempotency.TTL, func(ctx context.Context) {
				if n, err := idem.CleanupExpired(ctx); err != nil {
					logger.Warn(ctx, "idempotency cleanup failed", "error", err)
				} else if n > 0 {
					logger.Debug(ctx, "expired idempotency keys removed", "count", n)
				}
			})
			return nil
		})
	}

	// --- Graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return bus.Stop(shutdownCtx)
	})

	return g.Wait()
}

func newItemStockCache(ctx context.Context, cfg *config.Config, source cache.BalanceSource, store *storage) (*cache.ItemStockCache, error) {
	if !cfg.Redis.Enabled() {
		return cache.NewItemStockCache(cache.NewMemoryStore(), source), nil
	}

	client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	store.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }

	closeDB := store.close
	store.close = func() {
		_ = client.Close()
		closeDB()
	}

	logger.Info(ctx, "item stock cache backed by redis", "addr", cfg.Redis.Addr)
	return cache.NewItemStockCache(cache.NewRedisStore(client, cache.WithTTL(cfg.Redis.TTL)), source), nil
}

func healthInfo(store *storage, hub *websocket.Hub) func() map[string]any {
	return func() map[string]any {
		info := map[string]any{"ws_clients": hub.ClientCount()}
		if store.info != nil {
			for k, v := range store.info() {
				info[k] = v
			}
		}
		return info
	}
}

// checkDrift compares every projected balance with a ledger replay and
// rebuilds the ones that disagree.
func checkDrift(ctx context.Context, svc *stock.Service) {
	started := time.Now()
	sum, err := svc.VerifyAll(ctx)
	if err != nil {
		logger.Error(ctx, "drift check failed", "error", err)
		return
	}
	if sum.Drifted > 0 || sum.Failed > 0 {
		logger.Warn(ctx, "drift check found divergent balances",
			"checked", sum.Checked,
			"drifted", sum.Drifted,
			"repaired", sum.Repaired,
			"failed", sum.Failed,
			"duration", time.Since(started).String(),
		)
		return
	}
	logger.Debug(ctx, "drift check clean", "checked", sum.Checked, "duration", time.Since(started).String())
}

// runPeriodic calls fn every interval until ctx is cancelled. Each run gets
// its own trace tagged with job. A non-positive interval disables the job.
func runPeriodic(ctx context.Context, job string, interval time.Duration, fn func(ctx context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(appctx.NewJobTrace(ctx, job))
		}
	}
}
