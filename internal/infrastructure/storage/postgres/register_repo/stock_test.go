package register_repo

import (
	"testing"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/core/entity"
	"backoffice/internal/core/id"
	"backoffice/internal/core/types"
	"backoffice/internal/domain/registers/stock"
)

var builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

func TestHistoryQuery_AllFilters(t *testing.T) {
	wh := id.New()
	typ := entity.MovementSale
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	f := stock.MovementFilter{
		ItemID:       "flour",
		WarehouseID:  &wh,
		MovementType: &typ,
		FromDate:     &from,
		ToDate:       &to,
		Limit:        20,
		Offset:       40,
	}
	sql, args, err := historyQuery(builder, f).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "FROM reg_stock_movements")
	assert.Contains(t, sql, "item_id = $1")
	assert.Contains(t, sql, "warehouse_id = $2")
	assert.Contains(t, sql, "movement_type = $3")
	assert.Contains(t, sql, "created_at >= $4")
	assert.Contains(t, sql, "created_at <= $5")
	assert.Contains(t, sql, "ORDER BY created_at DESC, seq DESC LIMIT 20 OFFSET 40")
	assert.Equal(t, []any{"flour", wh, typ, from, to}, args)
}

func TestHistoryQuery_NoFilters(t *testing.T) {
	f := stock.MovementFilter{}
	f.Normalize()
	sql, args, err := historyQuery(builder, f).ToSql()
	require.NoError(t, err)

	assert.NotContains(t, sql, "WHERE")
	assert.Contains(t, sql, "LIMIT 100 OFFSET 0")
	assert.Empty(t, args)
}

func TestListBalancesQuery(t *testing.T) {
	wh := id.New()
	sql, args, err := listBalancesQuery(builder, stock.BalanceFilter{
		WarehouseID: &wh,
		ExcludeZero: true,
	}).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "warehouse_id = $1")
	assert.Contains(t, sql, "quantity <> 0")
	assert.Contains(t, sql, "ORDER BY item_id, warehouse_name")
	assert.Equal(t, []any{wh}, args)
}

func TestUpsertQuery_ClearsStale(t *testing.T) {
	b := &entity.StockBalance{
		ItemID:      "flour",
		WarehouseID: id.New(),
		Quantity:    types.MustDecimal("3"),
		Stale:       true,
	}
	sql, args, err := upsertQuery(builder, b).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "INSERT INTO reg_stock_balances")
	assert.Contains(t, sql, "ON CONFLICT (item_id, warehouse_id) DO UPDATE SET")
	assert.Contains(t, sql, "stale = FALSE")
	assert.Contains(t, args, false)
	assert.True(t, b.Stale, "caller's row is not modified")
}
