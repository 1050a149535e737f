package main

import (
	"context"
	"fmt"

	"backoffice/internal/core/idempotency"
	corenumerator "backoffice/internal/core/numerator"
	"backoffice/internal/core/tx"
	"backoffice/internal/domain/catalogs/warehouse"
	"backoffice/internal/domain/registers/stock"
	"backoffice/internal/infrastructure/http/v1/handlers"
	"backoffice/internal/infrastructure/numerator"
	"backoffice/internal/infrastructure/storage/memory"
	"backoffice/internal/infrastructure/storage/postgres"
	"backoffice/internal/infrastructure/storage/postgres/catalog_repo"
	"backoffice/internal/infrastructure/storage/postgres/register_repo"
	"backoffice/migrations"
	"backoffice/pkg/config"
	"backoffice/pkg/logger"
)

// storage bundles the repositories for the configured driver.
type storage struct {
	movements   stock.MovementRepository
	balances    stock.BalanceRepository
	warehouses  warehouse.Repository
	txManager   tx.Manager
	idempotency idempotency.Store
	numbers     corenumerator.Generator

	checks map[string]handlers.CheckFunc
	info   func() map[string]any
	close  func()
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.Database.Driver == config.DriverMemory {
		return openMemory(ctx, cfg), nil
	}
	return openPostgres(ctx, cfg)
}

func openPostgres(ctx context.Context, cfg *config.Config) (*storage, error) {
	poolCfg := postgres.DefaultPoolConfig(cfg.Database.URL)
	poolCfg.AppName = cfg.App.Name
	poolCfg.MaxConns = cfg.Database.MaxConns

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "database connection established", "max_conns", poolCfg.MaxConns)

	if cfg.Database.MigrateOnStart {
		if err := postgres.Migrate(ctx, pool, migrations.FS); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	txm := postgres.NewTxManager(pool)
	return &storage{
		movements:   register_repo.NewMovementRepo(txm),
		balances:    register_repo.NewBalanceRepo(txm),
		warehouses:  catalog_repo.NewWarehouseRepo(txm),
		txManager:   txm,
		idempotency: postgres.NewIdempotencyStore(txm, cfg.Idempotency.TTL),
		numbers:     numerator.NewSequences(txm),
		checks: map[string]handlers.CheckFunc{
			"database": func(ctx context.Context) error { return pool.Ping(ctx) },
		},
		info: func() map[string]any {
			return map[string]any{"db_pool": pool.Stats()}
		},
		close: pool.Close,
	}, nil
}

// openMemory keeps everything in process. A single default warehouse is
// seeded so the service is usable without a database.
func openMemory(ctx context.Context, cfg *config.Config) *storage {
	name := cfg.Stock.DefaultWarehouse
	if name == "" {
		name = "Main"
	}
	main := warehouse.NewWarehouse("MAIN", name)
	main.IsDefault = true

	logger.Warn(ctx, "using in-memory storage; data is lost on restart", "warehouse", main.Name)

	return &storage{
		movements:   memory.NewMovementRepo(),
		balances:    memory.NewBalanceRepo(),
		warehouses:  memory.NewWarehouseRepo(main),
		txManager:   tx.Passthrough,
		idempotency: memory.NewIdempotencyStore(cfg.Idempotency.TTL),
		numbers:     numerator.NewMemory(),
		checks:      map[string]handlers.CheckFunc{},
		close:       func() {},
	}
}
