// Package memory provides in-process implementations of the ledger
// repositories. They back STORAGE_DRIVER=memory and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/entity"
	"backoffice/internal/core/id"
	"backoffice/internal/domain/registers/stock"
)

// MovementRepo is an append-only movement store.
type MovementRepo struct {
	mu   sync.RWMutex
	seq  int64
	rows []entity.StockMovement
}

// NewMovementRepo creates an empty store.
func NewMovementRepo() *MovementRepo {
	return &MovementRepo{}
}

// Append stores a copy of m and assigns m.Seq.
func (r *MovementRepo) Append(ctx context.Context, m *entity.StockMovement) error {
	if m == nil {
		return apperror.NewValidation("movement is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	m.Seq = r.seq
	r.rows = append(r.rows, *m)
	return nil
}

// ListByItemAndWarehouse returns movements in ledger order.
func (r *MovementRepo) ListByItemAndWarehouse(ctx context.Context, itemID string, warehouseID *id.ID) ([]entity.StockMovement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]entity.StockMovement, 0)
	for _, m := range r.rows {
		if m.ItemID != itemID {
			continue
		}
		if warehouseID != nil && m.WarehouseID != *warehouseID {
			continue
		}
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(&out[j]) })
	return out, nil
}

// History returns movements matching filter, newest first.
func (r *MovementRepo) History(ctx context.Context, filter stock.MovementFilter) ([]entity.StockMovement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter.Normalize()

	r.mu.RLock()
	out := make([]entity.StockMovement, 0)
	for _, m := range r.rows {
		if matches(m, filter) {
			out = append(out, m)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[j].Before(&out[i]) })

	if filter.Offset >= len(out) {
		return []entity.StockMovement{}, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(m entity.StockMovement, f stock.MovementFilter) bool {
	if f.ItemID != "" && m.ItemID != f.ItemID {
		return false
	}
	if f.WarehouseID != nil && m.WarehouseID != *f.WarehouseID {
		return false
	}
	if f.MovementType != nil && m.MovementType != *f.MovementType {
		return false
	}
	if f.FromDate != nil && m.CreatedAt.Before(*f.FromDate) {
		return false
	}
	if f.ToDate != nil && m.CreatedAt.After(*f.ToDate) {
		return false
	}
	return true
}

// ListKeys returns distinct keys ordered by item, then warehouse ID.
func (r *MovementRepo) ListKeys(ctx context.Context, itemID string) ([]entity.BalanceKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	seen := make(map[entity.BalanceKey]struct{})
	keys := make([]entity.BalanceKey, 0)
	for _, m := range r.rows {
		if itemID != "" && m.ItemID != itemID {
			continue
		}
		k := m.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ItemID != keys[j].ItemID {
			return keys[i].ItemID < keys[j].ItemID
		}
		return keys[i].WarehouseID.String() < keys[j].WarehouseID.String()
	})
	return keys, nil
}

// LockKey is a no-op; the service's KeyLocker serializes writers in process.
func (r *MovementRepo) LockKey(context.Context, entity.BalanceKey) error {
	return nil
}

// Len returns the number of stored movements.
func (r *MovementRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

var _ stock.MovementRepository = (*MovementRepo)(nil)
