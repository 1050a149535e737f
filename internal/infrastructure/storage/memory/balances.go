package memory

import (
	"context"
	"sort"
	"sync"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/entity"
	"backoffice/internal/domain/registers/stock"
)

// BalanceRepo holds projected balances keyed by (item, warehouse).
type BalanceRepo struct {
	mu   sync.RWMutex
	rows map[entity.BalanceKey]entity.StockBalance
}

// NewBalanceRepo creates an empty projection store.
func NewBalanceRepo() *BalanceRepo {
	return &BalanceRepo{rows: make(map[entity.BalanceKey]entity.StockBalance)}
}

func (r *BalanceRepo) Get(ctx context.Context, key entity.BalanceKey) (*entity.StockBalance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.rows[key]
	if !ok {
		return nil, apperror.NewNotFound("balance", key.String())
	}
	return &b, nil
}

func (r *BalanceRepo) Upsert(ctx context.Context, b *entity.StockBalance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[b.Key()] = *b
	return nil
}

func (r *BalanceRepo) MarkStale(ctx context.Context, key entity.BalanceKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rows[key]
	if !ok {
		return apperror.NewNotFound("balance", key.String())
	}
	b.Stale = true
	r.rows[key] = b
	return nil
}

func (r *BalanceRepo) List(ctx context.Context, filter stock.BalanceFilter) ([]entity.StockBalance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]entity.StockBalance, 0, len(r.rows))
	for _, b := range r.rows {
		if filter.ItemID != "" && b.ItemID != filter.ItemID {
			continue
		}
		if filter.WarehouseID != nil && b.WarehouseID != *filter.WarehouseID {
			continue
		}
		if filter.ExcludeZero && b.Quantity.IsZero() {
			continue
		}
		out = append(out, b)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].WarehouseName < out[j].WarehouseName
	})
	return out, nil
}

var _ stock.BalanceRepository = (*BalanceRepo)(nil)
