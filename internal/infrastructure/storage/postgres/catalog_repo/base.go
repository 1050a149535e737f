// Package catalog_repo provides PostgreSQL implementations for catalog repositories.
package catalog_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/id"
	"backoffice/internal/infrastructure/storage/postgres"
)

// BaseCatalogRepo provides the shared CRUD for catalog tables.
// Embed it in specific catalog repositories.
type BaseCatalogRepo[T any] struct {
	txm        *postgres.TxManager
	tableName  string
	entityName string
	selectCols []string
	newFn      func() T
}

// NewBaseCatalogRepo creates a new base catalog repository.
func NewBaseCatalogRepo[T any](
	txm *postgres.TxManager,
	tableName, entityName string,
	selectCols []string,
	newFn func() T,
) *BaseCatalogRepo[T] {
	return &BaseCatalogRepo[T]{
		txm:        txm,
		tableName:  tableName,
		entityName: entityName,
		selectCols: selectCols,
		newFn:      newFn,
	}
}

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func (r *BaseCatalogRepo[T]) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// Querier returns the transaction or pool for ctx.
func (r *BaseCatalogRepo[T]) Querier(ctx context.Context) postgres.Querier {
	return r.txm.GetQuerier(ctx)
}

// Create inserts a new entity using its "db" tags.
func (r *BaseCatalogRepo[T]) Create(ctx context.Context, entity T) error {
	data := postgres.StructToMap(entity)
	if len(data) == 0 {
		return fmt.Errorf("no db tags found in %s", r.entityName)
	}

	sql, args, err := r.Builder().Insert(r.tableName).SetMap(data).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.Querier(ctx).Exec(ctx, sql, args...); err != nil {
		return postgres.Translate(fmt.Errorf("insert %s: %w", r.tableName, err))
	}
	return nil
}

// GetByID retrieves an entity by primary key.
func (r *BaseCatalogRepo[T]) GetByID(ctx context.Context, entityID id.ID) (T, error) {
	return r.FindOne(ctx, squirrel.Eq{"id": entityID}, entityID.String())
}

// FindOne returns the single row matching where, or NOT_FOUND.
func (r *BaseCatalogRepo[T]) FindOne(ctx context.Context, where squirrel.Sqlizer, ref string) (T, error) {
	var zero T
	sql, args, err := r.Builder().
		Select(r.selectCols...).
		From(r.tableName).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return zero, fmt.Errorf("build query: %w", err)
	}

	entity := r.newFn()
	if err := pgxscan.Get(ctx, r.Querier(ctx), entity, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return zero, apperror.NewNotFound(r.entityName, ref)
		}
		return zero, postgres.Translate(fmt.Errorf("get %s: %w", r.tableName, err))
	}
	return entity, nil
}

// Select returns every row matching where in orderBy order. A nil where
// selects the whole table.
func (r *BaseCatalogRepo[T]) Select(ctx context.Context, where squirrel.Sqlizer, orderBy ...string) ([]T, error) {
	q := r.Builder().Select(r.selectCols...).From(r.tableName).OrderBy(orderBy...)
	if where != nil {
		q = q.Where(where)
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	items := make([]T, 0)
	if err := pgxscan.Select(ctx, r.Querier(ctx), &items, sql, args...); err != nil {
		return nil, postgres.Translate(fmt.Errorf("select %s: %w", r.tableName, err))
	}
	return items, nil
}

// UpdateColumns sets columns on the row with entityID and touches updated_at.
func (r *BaseCatalogRepo[T]) UpdateColumns(ctx context.Context, entityID id.ID, set map[string]any) error {
	sql, args, err := r.Builder().
		Update(r.tableName).
		SetMap(set).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": entityID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.Querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return postgres.Translate(fmt.Errorf("update %s: %w", r.tableName, err))
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound(r.entityName, entityID.String())
	}
	return nil
}
