// Package register_repo provides PostgreSQL implementations of the stock
// ledger repositories.
package register_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/entity"
	"backoffice/internal/core/id"
	"backoffice/internal/domain/registers/stock"
	"backoffice/internal/infrastructure/storage/postgres"
)

const (
	stockMovementsTable = "reg_stock_movements"
	stockBalancesTable  = "reg_stock_balances"
)

var (
	movementColumns = postgres.ExtractDBColumns[entity.StockMovement]()
	balanceColumns  = postgres.ExtractDBColumns[entity.StockBalance]()
)

// MovementRepo implements stock.MovementRepository.
type MovementRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewMovementRepo creates a movement repository.
func NewMovementRepo(txm *postgres.TxManager) *MovementRepo {
	return &MovementRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Append inserts m. seq is assigned by the database.
func (r *MovementRepo) Append(ctx context.Context, m *entity.StockMovement) error {
	if m == nil {
		return apperror.NewValidation("movement is required")
	}

	data := postgres.StructToMap(m)
	delete(data, "seq")

	sql, args, err := r.builder.Insert(stockMovementsTable).
		SetMap(data).
		Suffix("RETURNING seq").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&m.Seq); err != nil {
		return postgres.Translate(fmt.Errorf("insert movement: %w", err))
	}
	return nil
}

// ListByItemAndWarehouse returns movements in ledger order.
func (r *MovementRepo) ListByItemAndWarehouse(ctx context.Context, itemID string, warehouseID *id.ID) ([]entity.StockMovement, error) {
	q := r.builder.Select(movementColumns...).
		From(stockMovementsTable).
		Where(squirrel.Eq{"item_id": itemID}).
		OrderBy("created_at", "seq")
	if warehouseID != nil {
		q = q.Where(squirrel.Eq{"warehouse_id": *warehouseID})
	}
	return r.selectMovements(ctx, q)
}

// History returns movements matching filter, newest first.
func (r *MovementRepo) History(ctx context.Context, filter stock.MovementFilter) ([]entity.StockMovement, error) {
	filter.Normalize()
	q := historyQuery(r.builder, filter)
	return r.selectMovements(ctx, q)
}

func historyQuery(b squirrel.StatementBuilderType, filter stock.MovementFilter) squirrel.SelectBuilder {
	q := b.Select(movementColumns...).From(stockMovementsTable)

	if filter.ItemID != "" {
		q = q.Where(squirrel.Eq{"item_id": filter.ItemID})
	}
	if filter.WarehouseID != nil {
		q = q.Where(squirrel.Eq{"warehouse_id": *filter.WarehouseID})
	}
	if filter.MovementType != nil {
		q = q.Where(squirrel.Eq{"movement_type": *filter.MovementType})
	}
	if filter.FromDate != nil {
		q = q.Where(squirrel.GtOrEq{"created_at": *filter.FromDate})
	}
	if filter.ToDate != nil {
		q = q.Where(squirrel.LtOrEq{"created_at": *filter.ToDate})
	}

	return q.OrderBy("created_at DESC", "seq DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset))
}

func (r *MovementRepo) selectMovements(ctx context.Context, q squirrel.SelectBuilder) ([]entity.StockMovement, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	movements := make([]entity.StockMovement, 0)
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &movements, sql, args...); err != nil {
		return nil, postgres.Translate(fmt.Errorf("select movements: %w", err))
	}
	return movements, nil
}

// ListKeys returns the distinct balance keys in the ledger.
func (r *MovementRepo) ListKeys(ctx context.Context, itemID string) ([]entity.BalanceKey, error) {
	q := r.builder.Select("item_id", "warehouse_id").
		Distinct().
		From(stockMovementsTable).
		OrderBy("item_id", "warehouse_id")
	if itemID != "" {
		q = q.Where(squirrel.Eq{"item_id": itemID})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	keys := make([]entity.BalanceKey, 0)
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &keys, sql, args...); err != nil {
		return nil, postgres.Translate(fmt.Errorf("select keys: %w", err))
	}
	return keys, nil
}

// LockKey takes a transaction-scoped advisory lock on key. Writers in other
// processes block until the holder commits or rolls back.
func (r *MovementRepo) LockKey(ctx context.Context, key entity.BalanceKey) error {
	if !r.txm.InTransaction(ctx) {
		return fmt.Errorf("lock %s: no transaction in context", key)
	}
	_, err := r.txm.GetQuerier(ctx).Exec(ctx,
		"SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key.String())
	if err != nil {
		return postgres.Translate(fmt.Errorf("lock %s: %w", key, err))
	}
	return nil
}

var _ stock.MovementRepository = (*MovementRepo)(nil)

// BalanceRepo implements stock.BalanceRepository.
type BalanceRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewBalanceRepo creates a balance repository.
func NewBalanceRepo(txm *postgres.TxManager) *BalanceRepo {
	return &BalanceRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Get returns the stored balance for key.
func (r *BalanceRepo) Get(ctx context.Context, key entity.BalanceKey) (*entity.StockBalance, error) {
	sql, args, err := r.builder.Select(balanceColumns...).
		From(stockBalancesTable).
		Where(squirrel.Eq{"item_id": key.ItemID, "warehouse_id": key.WarehouseID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var b entity.StockBalance
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &b, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("stock balance", key.String())
		}
		return nil, postgres.Translate(fmt.Errorf("get balance: %w", err))
	}
	return &b, nil
}

// Upsert replaces the stored balance and clears the stale flag.
func (r *BalanceRepo) Upsert(ctx context.Context, b *entity.StockBalance) error {
	sql, args, err := upsertQuery(r.builder, b).ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return postgres.Translate(fmt.Errorf("upsert balance: %w", err))
	}
	return nil
}

func upsertQuery(b squirrel.StatementBuilderType, bal *entity.StockBalance) squirrel.InsertBuilder {
	row := *bal
	row.Stale = false
	return b.Insert(stockBalancesTable).
		SetMap(postgres.StructToMap(row)).
		Suffix(`ON CONFLICT (item_id, warehouse_id) DO UPDATE SET
			warehouse_name = EXCLUDED.warehouse_name,
			quantity = EXCLUDED.quantity,
			total_value = EXCLUDED.total_value,
			average_price = EXCLUDED.average_price,
			anomaly_count = EXCLUDED.anomaly_count,
			stale = FALSE,
			movement_count = EXCLUDED.movement_count,
			last_movement_at = EXCLUDED.last_movement_at,
			updated_at = EXCLUDED.updated_at`)
}

// MarkStale flags the stored row for replay on next read.
func (r *BalanceRepo) MarkStale(ctx context.Context, key entity.BalanceKey) error {
	sql, args, err := r.builder.Update(stockBalancesTable).
		Set("stale", true).
		Where(squirrel.Eq{"item_id": key.ItemID, "warehouse_id": key.WarehouseID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return postgres.Translate(fmt.Errorf("mark stale: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("stock balance", key.String())
	}
	return nil
}

// List returns balances matching filter ordered by item, then warehouse name.
func (r *BalanceRepo) List(ctx context.Context, filter stock.BalanceFilter) ([]entity.StockBalance, error) {
	sql, args, err := listBalancesQuery(r.builder, filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	balances := make([]entity.StockBalance, 0)
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &balances, sql, args...); err != nil {
		return nil, postgres.Translate(fmt.Errorf("select balances: %w", err))
	}
	return balances, nil
}

func listBalancesQuery(b squirrel.StatementBuilderType, filter stock.BalanceFilter) squirrel.SelectBuilder {
	q := b.Select(balanceColumns...).From(stockBalancesTable)
	if filter.ItemID != "" {
		q = q.Where(squirrel.Eq{"item_id": filter.ItemID})
	}
	if filter.WarehouseID != nil {
		q = q.Where(squirrel.Eq{"warehouse_id": *filter.WarehouseID})
	}
	if filter.ExcludeZero {
		q = q.Where("quantity <> 0")
	}
	return q.OrderBy("item_id", "warehouse_name")
}

var _ stock.BalanceRepository = (*BalanceRepo)(nil)
