// Package main is the entry point for the back-office maintenance worker.
// It verifies projected balances against the ledger and prunes expired
// idempotency keys, so API instances can run with DRIFT_CHECK_INTERVAL=0.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	appctx "backoffice/internal/core/context"
	"backoffice/internal/domain/catalogs/warehouse"
	"backoffice/internal/domain/registers/stock"
	"backoffice/internal/infrastructure/storage/postgres"
	"backoffice/internal/infrastructure/storage/postgres/catalog_repo"
	"backoffice/internal/infrastructure/storage/postgres/register_repo"
	"backoffice/pkg/config"
	"backoffice/pkg/logger"
)

const (
	statsInterval   = 5 * time.Minute
	cleanupInterval = time.Hour
)

func main() {
	once := flag.Bool("once", false, "run a single maintenance pass and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		fmt.Println("worker requires STORAGE_DRIVER=postgres")
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Development: cfg.App.IsDevelopment(),
		App:         cfg.App.Name + "-worker",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	poolCfg := postgres.DefaultPoolConfig(cfg.Database.URL)
	poolCfg.AppName = cfg.App.Name + "-worker"
	poolCfg.MaxConns = 4
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txm := postgres.NewTxManager(pool)
	warehouses := warehouse.NewService(catalog_repo.NewWarehouseRepo(txm), txm, cfg.Stock.DefaultWarehouse)
	w := &Worker{
		pool:        pool,
		stock:       stock.NewService(register_repo.NewMovementRepo(txm), register_repo.NewBalanceRepo(txm), warehouses, txm),
		idempotency: postgres.NewIdempotencyStore(txm, cfg.Idempotency.TTL),
		log:         log.WithComponent("worker"),
	}

	if *once {
		w.verify(ctx)
		w.cleanupIdempotency(ctx)
		return
	}

	interval := cfg.Stock.DriftCheckInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	log.Infow("starting backoffice worker", "drift_interval", interval.String())
	w.Run(ctx, interval)
	log.Info("worker stopped")
}

// Worker runs periodic ledger maintenance.
type Worker struct {
	pool        *postgres.Pool
	stock       *stock.Service
	idempotency *postgres.IdempotencyStore
	log         *logger.Logger
}

// Run blocks until ctx is cancelled. Drift is checked once at start.
func (w *Worker) Run(ctx context.Context, driftInterval time.Duration) {
	driftTicker := time.NewTicker(driftInterval)
	defer driftTicker.Stop()
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()
	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()

	w.verify(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-driftTicker.C:
			w.verify(ctx)
		case <-cleanupTicker.C:
			w.cleanupIdempotency(ctx)
		case <-statsTicker.C:
			w.pool.LogPoolStats(ctx)
		}
	}
}

func (w *Worker) verify(ctx context.Context) {
	ctx = appctx.NewJobTrace(ctx, "drift_check")
	log := w.log.WithContext(ctx)
	started := time.Now()
	sum, err := w.stock.VerifyAll(ctx)
	if err != nil {
		log.Errorw("drift check failed", "error", err)
		return
	}
	log.Infow("drift check finished",
		"checked", sum.Checked,
		"drifted", sum.Drifted,
		"repaired", sum.Repaired,
		"failed", sum.Failed,
		"duration", time.Since(started).String(),
	)
}

func (w *Worker) cleanupIdempotency(ctx context.Context) {
	ctx = appctx.NewJobTrace(ctx, "idempotency_cleanup")
	log := w.log.WithContext(ctx)
	n, err := w.idempotency.CleanupExpired(ctx)
	if err != nil {
		log.Warnw("idempotency cleanup failed", "error", err)
		return
	}
	if n > 0 {
		log.Infow("cleaned up idempotency keys", "count", n)
	}
}
