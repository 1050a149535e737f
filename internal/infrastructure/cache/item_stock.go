// Package cache keeps read-only copies of ledger figures for fast display.
// The balance projection stays the single source of truth; nothing here is
// writable through the API.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"backoffice/internal/core/entity"
	"backoffice/internal/core/types"
	"backoffice/internal/domain/registers/stock"
	"backoffice/internal/infrastructure/event"
	"backoffice/pkg/logger"
)

// WarehouseStock is one warehouse's share of an item's stock.
type WarehouseStock struct {
	WarehouseID   string         `json:"warehouseId"`
	WarehouseName string         `json:"warehouseName"`
	Quantity      types.Quantity `json:"quantity"`
}

// ItemStock is the cached aggregate stock of an item.
type ItemStock struct {
	ItemID       string           `json:"itemId"`
	Quantity     types.Quantity   `json:"quantity"`
	TotalValue   types.Money      `json:"totalValue"`
	AveragePrice types.Money      `json:"averagePrice"`
	Warehouses   []WarehouseStock `json:"warehouses"`
	RefreshedAt  time.Time        `json:"refreshedAt"`
}

// Store persists cached entries.
type Store interface {
	// Get returns (nil, nil) on a miss.
	Get(ctx context.Context, itemID string) (*ItemStock, error)
	Set(ctx context.Context, s *ItemStock) error
	// ItemIDs lists every cached item.
	ItemIDs(ctx context.Context) ([]string, error)
}

// BalanceSource reads the projection. *stock.Service satisfies it.
type BalanceSource interface {
	ListBalances(ctx context.Context, q stock.BalanceQuery) ([]entity.StockBalance, error)
}

// ItemStockCache serves item stock from Store, loading from the projection on
// a miss. Refresh keeps entries current; wire it to the bus and to an
// event.IntervalRefresher.
type ItemStockCache struct {
	store  Store
	source BalanceSource
	now    func() time.Time
}

// NewItemStockCache creates the cache.
func NewItemStockCache(store Store, source BalanceSource) *ItemStockCache {
	return &ItemStockCache{
		store:  store,
		source: source,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the cached stock for itemID.
func (c *ItemStockCache) Get(ctx context.Context, itemID string) (*ItemStock, error) {
	itemID = strings.TrimSpace(itemID)
	cached, err := c.store.Get(ctx, itemID)
	if err != nil {
		logger.Warn(ctx, "item stock cache read failed, loading from projection", "item_id", itemID, "error", err)
	} else if cached != nil {
		return cached, nil
	}
	return c.load(ctx, itemID)
}

// Refresh reloads one item, or every cached item when scope is empty.
// It matches event.RefreshFunc.
func (c *ItemStockCache) Refresh(ctx context.Context, scope event.Scope) error {
	if scope.ItemID != "" {
		_, err := c.load(ctx, scope.ItemID)
		return err
	}

	ids, err := c.store.ItemIDs(ctx)
	if err != nil {
		return fmt.Errorf("list cached items: %w", err)
	}
	var failed int
	for _, itemID := range ids {
		if _, err := c.load(ctx, itemID); err != nil {
			failed++
			logger.Warn(ctx, "item stock refresh failed", "item_id", itemID, "error", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("refresh item stock: %d of %d items failed", failed, len(ids))
	}
	return nil
}

func (c *ItemStockCache) load(ctx context.Context, itemID string) (*ItemStock, error) {
	rows, err := c.source.ListBalances(ctx, stock.BalanceQuery{ItemID: itemID})
	if err != nil {
		return nil, err
	}
	now := c.now()
	agg := stock.Aggregate(itemID, rows, now)

	s := &ItemStock{
		ItemID:       itemID,
		Quantity:     agg.Quantity,
		TotalValue:   agg.TotalValue,
		AveragePrice: agg.AveragePrice,
		Warehouses:   make([]WarehouseStock, 0, len(rows)),
		RefreshedAt:  now,
	}
	for _, b := range rows {
		s.Warehouses = append(s.Warehouses, WarehouseStock{
			WarehouseID:   b.WarehouseID.String(),
			WarehouseName: b.WarehouseName,
			Quantity:      b.Quantity,
		})
	}

	if err := c.store.Set(ctx, s); err != nil {
		logger.Warn(ctx, "item stock cache write failed", "item_id", itemID, "error", err)
	}
	return s, nil
}
