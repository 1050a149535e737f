package catalog_repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"

	"backoffice/internal/core/id"
	"backoffice/internal/domain/catalogs/warehouse"
	"backoffice/internal/infrastructure/storage/postgres"
)

const warehouseTable = "cat_warehouses"

// WarehouseRepo implements warehouse.Repository.
type WarehouseRepo struct {
	*BaseCatalogRepo[*warehouse.Warehouse]
}

// NewWarehouseRepo creates a new warehouse repository.
func NewWarehouseRepo(txm *postgres.TxManager) *WarehouseRepo {
	return &WarehouseRepo{
		BaseCatalogRepo: NewBaseCatalogRepo[*warehouse.Warehouse](
			txm,
			warehouseTable,
			"warehouse",
			postgres.ExtractDBColumns[warehouse.Warehouse](),
			func() *warehouse.Warehouse { return &warehouse.Warehouse{} },
		),
	}
}

// FindByCode looks a warehouse up by code, ignoring case.
func (r *WarehouseRepo) FindByCode(ctx context.Context, code string) (*warehouse.Warehouse, error) {
	return r.findCI(ctx, "code", code)
}

// FindByName looks a warehouse up by name, ignoring case.
func (r *WarehouseRepo) FindByName(ctx context.Context, name string) (*warehouse.Warehouse, error) {
	return r.findCI(ctx, "name", name)
}

func (r *WarehouseRepo) findCI(ctx context.Context, column, value string) (*warehouse.Warehouse, error) {
	value = strings.TrimSpace(value)
	w, err := r.FindOne(ctx, squirrel.Expr("lower("+column+") = lower(?)", value), value)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// List returns warehouses ordered by code.
func (r *WarehouseRepo) List(ctx context.Context, filter warehouse.ListFilter) ([]*warehouse.Warehouse, error) {
	var where squirrel.Sqlizer
	if filter.Status != nil {
		where = squirrel.Eq{"status": *filter.Status}
	}
	return r.Select(ctx, where, "code")
}

// SetStatus activates or deactivates a warehouse.
func (r *WarehouseRepo) SetStatus(ctx context.Context, whID id.ID, status warehouse.Status) error {
	return r.UpdateColumns(ctx, whID, map[string]any{"status": status})
}

// ClearDefault clears the default flag on all warehouses.
func (r *WarehouseRepo) ClearDefault(ctx context.Context) error {
	sql, args, err := r.Builder().
		Update(warehouseTable).
		Set("is_default", false).
		Where(squirrel.Eq{"is_default": true}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := r.Querier(ctx).Exec(ctx, sql, args...); err != nil {
		return postgres.Translate(fmt.Errorf("clear default: %w", err))
	}
	return nil
}

var _ warehouse.Repository = (*WarehouseRepo)(nil)
