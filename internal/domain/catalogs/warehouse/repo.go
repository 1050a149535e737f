package warehouse

import (
	"context"

	"backoffice/internal/core/id"
)

// ListFilter narrows List results. A nil Status lists every warehouse.
type ListFilter struct {
	Status *Status
}

// Repository defines the interface for Warehouse persistence.
// Lookups by code and name are exact and case-insensitive.
type Repository interface {
	Create(ctx context.Context, w *Warehouse) error
	GetByID(ctx context.Context, id id.ID) (*Warehouse, error)
	FindByCode(ctx context.Context, code string) (*Warehouse, error)
	FindByName(ctx context.Context, name string) (*Warehouse, error)

	// List returns warehouses ordered by code.
	List(ctx context.Context, filter ListFilter) ([]*Warehouse, error)

	SetStatus(ctx context.Context, id id.ID, status Status) error

	// ClearDefault clears the default flag on all warehouses (before setting new default).
	ClearDefault(ctx context.Context) error
}
