// Package warehouse provides the warehouse registry: the set of stock
// locations movements can be booked against.
package warehouse

import (
	"strings"
	"time"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/id"
)

// Status is the lifecycle state of a warehouse.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	return s == StatusActive || s == StatusInactive
}

// Warehouse represents a storage location for goods.
type Warehouse struct {
	ID   id.ID  `db:"id" json:"id"`
	Code string `db:"code" json:"code"`
	Name string `db:"name" json:"name"`

	Status Status `db:"status" json:"status"`

	// IsDefault marks the warehouse preferred when none is configured explicitly.
	IsDefault bool `db:"is_default" json:"isDefault"`

	Address *string `db:"address" json:"address,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// NewWarehouse creates an active warehouse.
func NewWarehouse(code, name string) *Warehouse {
	now := time.Now().UTC()
	return &Warehouse{
		ID:        id.New(),
		Code:      strings.TrimSpace(code),
		Name:      strings.TrimSpace(name),
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive reports whether movements may be booked against the warehouse.
func (w *Warehouse) IsActive() bool {
	return w.Status == StatusActive
}

// Validate checks required fields.
func (w *Warehouse) Validate() error {
	var fe apperror.FieldErrors
	if w.Code == "" {
		fe.Add("code", "code is required")
	}
	if w.Name == "" {
		fe.Add("name", "name is required")
	}
	if !w.Status.IsValid() {
		fe.Add("status", "status must be active or inactive")
	}
	return fe.Err()
}

// Ref is the canonical warehouse reference stored on movements and balances.
type Ref struct {
	ID   id.ID  `json:"id"`
	Name string `json:"name"`
}

// Ref returns the canonical reference for w.
func (w *Warehouse) Ref() Ref {
	return Ref{ID: w.ID, Name: w.Name}
}
