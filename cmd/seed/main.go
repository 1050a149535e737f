// Package main provides a CLI tool for seeding the database with warehouses
// and, optionally, opening stock for a demo kitchen.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"backoffice/internal/core/apperror"
	appctx "backoffice/internal/core/context"
	"backoffice/internal/domain/catalogs/warehouse"
	"backoffice/internal/domain/registers/stock"
	"backoffice/internal/infrastructure/numerator"
	"backoffice/internal/infrastructure/storage/postgres"
	"backoffice/internal/infrastructure/storage/postgres/catalog_repo"
	"backoffice/internal/infrastructure/storage/postgres/register_repo"
	"backoffice/migrations"
	"backoffice/pkg/config"
	"backoffice/pkg/logger"
)

const seedActor = "seed"

func main() {
	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("failed to load configuration", "error", err)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		log.Fatal("seed requires STORAGE_DRIVER=postgres")
	}

	ctx := logger.WithLogger(context.Background(), log)
	ctx = appctx.WithUser(ctx, &appctx.UserContext{UserID: seedActor, DisplayName: "Seeder"})

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.Database.URL))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	log.Info("connected to database")

	if err := postgres.Migrate(ctx, pool, migrations.FS); err != nil {
		log.Fatalw("failed to migrate", "error", err)
	}

	txm := postgres.NewTxManager(pool)
	warehouses := warehouse.NewService(catalog_repo.NewWarehouseRepo(txm), txm, cfg.Stock.DefaultWarehouse)

	if err := seedWarehouses(ctx, warehouses, log); err != nil {
		log.Fatalw("failed to seed warehouses", "error", err)
	}

	if os.Getenv("SEED_DEMO_DATA") == "true" {
		svc := stock.NewService(register_repo.NewMovementRepo(txm), register_repo.NewBalanceRepo(txm), warehouses, txm,
			stock.WithNumerator(numerator.NewSequences(txm)))
		if err := seedOpeningStock(ctx, svc, log); err != nil {
			log.Fatalw("failed to seed opening stock", "error", err)
		}
	}

	log.Info("seeding completed successfully")
}

func seedWarehouses(ctx context.Context, svc *warehouse.Service, log *logger.Logger) error {
	seeds := []struct {
		code      string
		name      string
		isDefault bool
	}{
		{"MAIN", "Main", true},
		{"KITCHEN", "Kitchen", false},
		{"BAR", "Bar", false},
	}

	for _, s := range seeds {
		w := warehouse.NewWarehouse(s.code, s.name)
		w.IsDefault = s.isDefault

		err := svc.Create(ctx, w)
		switch {
		case err == nil:
		case apperror.HasCode(err, apperror.CodeDuplicate):
			log.Infow("warehouse already exists", "code", s.code)
		default:
			return fmt.Errorf("create %s: %w", s.code, err)
		}
	}
	return nil
}

// seedOpeningStock records a stock count per item. Counts go through
// reconcile, so running the seeder again books nothing new.
func seedOpeningStock(ctx context.Context, svc *stock.Service, log *logger.Logger) error {
	log.Info("seeding opening stock...")

	counts := []struct {
		item      string
		warehouse string
		quantity  string
		price     string
	}{
		{"flour-t55", "Main", "50", "0.92"},
		{"olive-oil-1l", "Main", "24", "7.40"},
		{"tomatoes-kg", "Kitchen", "12.5", "2.15"},
		{"mozzarella-kg", "Kitchen", "6", "11.80"},
		{"lemons-kg", "Bar", "4", "2.60"},
		{"tonic-200ml", "Bar", "48", "0.55"},
	}

	for _, c := range counts {
		res, err := svc.Reconcile(ctx, stock.ReconcileInput{
			ItemID:      c.item,
			Warehouse:   c.warehouse,
			NewQuantity: decimal.RequireFromString(c.quantity),
			UnitPrice:   decimal.RequireFromString(c.price),
			Description: "opening stock",
		})
		if err != nil {
			return fmt.Errorf("reconcile %s@%s: %w", c.item, c.warehouse, err)
		}
		if res.Noop() {
			log.Infow("opening stock already recorded", "item", c.item, "warehouse", c.warehouse)
		}
	}
	return nil
}
