// Package stock provides the stock ledger: the append-only movement record
// store, the balance projection derived from it, and the operations that
// write to it (append, reconcile, transfer, recompute).
package stock

import (
	"context"
	"time"

	"backoffice/internal/core/entity"
	"backoffice/internal/core/id"
)

// MovementRepository is the movement record store. Rows are never updated or deleted.
type MovementRepository interface {
	// Append persists m and assigns m.Seq.
	Append(ctx context.Context, m *entity.StockMovement) error

	// ListByItemAndWarehouse returns an item's movements ordered by created_at,
	// then seq. A nil warehouseID returns movements for every warehouse.
	ListByItemAndWarehouse(ctx context.Context, itemID string, warehouseID *id.ID) ([]entity.StockMovement, error)

	// History returns movements matching filter, newest first.
	History(ctx context.Context, filter MovementFilter) ([]entity.StockMovement, error)

	// ListKeys returns the distinct balance keys present in the ledger.
	// An empty itemID lists keys for every item.
	ListKeys(ctx context.Context, itemID string) ([]entity.BalanceKey, error)

	// LockKey serializes writers of key across processes for the rest of the
	// transaction in ctx.
	LockKey(ctx context.Context, key entity.BalanceKey) error
}

// BalanceRepository stores the projected balances.
type BalanceRepository interface {
	// Get returns the stored balance or a NOT_FOUND AppError.
	Get(ctx context.Context, key entity.BalanceKey) (*entity.StockBalance, error)

	// Upsert replaces the stored balance for b's key.
	Upsert(ctx context.Context, b *entity.StockBalance) error

	// MarkStale flags the stored row so readers replay before trusting it.
	MarkStale(ctx context.Context, key entity.BalanceKey) error

	// List returns balances matching filter ordered by item, then warehouse name.
	List(ctx context.Context, filter BalanceFilter) ([]entity.StockBalance, error)
}

// BalanceFilter for filtering balance queries.
type BalanceFilter struct {
	ItemID      string
	WarehouseID *id.ID
	ExcludeZero bool
}

// MovementFilter for filtering movement history.
type MovementFilter struct {
	ItemID       string
	WarehouseID  *id.ID
	MovementType *entity.MovementType
	FromDate     *time.Time
	ToDate       *time.Time
	Limit        int
	Offset       int
}

// Normalize applies paging defaults.
func (f *MovementFilter) Normalize() {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
