// Package entity provides core domain entities.
package entity

import (
	"time"

	"backoffice/internal/core/id"
	"backoffice/internal/core/types"
)

// MovementType classifies a stock movement. The type alone decides direction.
type MovementType string

const (
	MovementInitial             MovementType = "INITIAL"
	MovementAdjustmentIncrement MovementType = "ADJUSTMENT_INCREMENT"
	MovementAdjustmentDecrement MovementType = "ADJUSTMENT_DECREMENT"
	MovementTransferIn          MovementType = "TRANSFER_IN"
	MovementTransferOut         MovementType = "TRANSFER_OUT"
	MovementSale                MovementType = "SALE"
	MovementPurchase            MovementType = "PURCHASE"
)

// MovementTypes lists every recognised movement type.
func MovementTypes() []MovementType {
	return []MovementType{
		MovementInitial,
		MovementAdjustmentIncrement,
		MovementAdjustmentDecrement,
		MovementTransferIn,
		MovementTransferOut,
		MovementSale,
		MovementPurchase,
	}
}

// IsValid reports whether t is a recognised movement type.
func (t MovementType) IsValid() bool {
	return t.IsInflow() || t.IsOutflow()
}

// IsInflow reports whether t adds stock.
func (t MovementType) IsInflow() bool {
	switch t {
	case MovementInitial, MovementAdjustmentIncrement, MovementTransferIn, MovementPurchase:
		return true
	}
	return false
}

// IsOutflow reports whether t removes stock.
func (t MovementType) IsOutflow() bool {
	switch t {
	case MovementAdjustmentDecrement, MovementTransferOut, MovementSale:
		return true
	}
	return false
}

// StockMovement is one immutable ledger row. Rows are appended, never updated
// or deleted; a correction is a new row.
type StockMovement struct {
	ID  id.ID `db:"id" json:"id"`
	Seq int64 `db:"seq" json:"seq"`

	// Dimensions
	ItemID        string `db:"item_id" json:"itemId"`
	WarehouseID   id.ID  `db:"warehouse_id" json:"warehouseId"`
	WarehouseName string `db:"warehouse_name" json:"warehouseName"`

	// Resources
	MovementType MovementType   `db:"movement_type" json:"movementType"`
	Quantity     types.Quantity `db:"quantity" json:"quantity"`
	UnitPrice    types.Money    `db:"unit_price" json:"unitPrice"`

	// Provenance
	DocumentNumber string    `db:"document_number" json:"documentNumber,omitempty"`
	DocumentType   string    `db:"document_type" json:"documentType,omitempty"`
	Description    string    `db:"description" json:"description,omitempty"`
	CreatedBy      string    `db:"created_by" json:"createdBy"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// Key returns the balance key this movement contributes to.
func (m *StockMovement) Key() BalanceKey {
	return BalanceKey{ItemID: m.ItemID, WarehouseID: m.WarehouseID}
}

// SignedQuantity returns quantity with sign based on movement type.
// Inflow = positive, outflow = negative.
func (m *StockMovement) SignedQuantity() types.Quantity {
	if m.MovementType.IsOutflow() {
		return m.Quantity.Neg()
	}
	return m.Quantity
}

// Before orders movements by creation time, then by insertion sequence.
func (m *StockMovement) Before(other *StockMovement) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.Seq < other.Seq
}

// BalanceKey identifies one projected balance.
type BalanceKey struct {
	ItemID      string `db:"item_id" json:"itemId"`
	WarehouseID id.ID  `db:"warehouse_id" json:"warehouseId"`
}

// String renders the key for logs and lock names.
func (k BalanceKey) String() string {
	return k.ItemID + "@" + k.WarehouseID.String()
}

// StockBalance is the projected balance for one key. It is derived from the
// movement ledger and can be rebuilt at any time by replay.
type StockBalance struct {
	// Dimensions
	ItemID        string `db:"item_id" json:"itemId"`
	WarehouseID   id.ID  `db:"warehouse_id" json:"warehouseId"`
	WarehouseName string `db:"warehouse_name" json:"warehouseName"`

	// Balances
	Quantity     types.Quantity `db:"quantity" json:"quantity"`
	TotalValue   types.Money    `db:"total_value" json:"totalValue"`
	AveragePrice types.Money    `db:"average_price" json:"averagePrice"`

	// AnomalyCount is how many outflows were clamped at zero during the last replay.
	AnomalyCount int `db:"anomaly_count" json:"anomalyCount"`

	// Stale marks a row whose last recompute failed; readers replay before trusting it.
	Stale bool `db:"stale" json:"stale"`

	// Metadata
	MovementCount  int       `db:"movement_count" json:"movementCount"`
	LastMovementAt time.Time `db:"last_movement_at" json:"lastMovementAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Key returns the balance key.
func (b *StockBalance) Key() BalanceKey {
	return BalanceKey{ItemID: b.ItemID, WarehouseID: b.WarehouseID}
}

// BalanceAnomaly records an outflow that exceeded the stock on hand.
// The projection clamps to zero and reports the shortfall here.
type BalanceAnomaly struct {
	MovementID   id.ID          `json:"movementId"`
	ItemID       string         `json:"itemId"`
	WarehouseID  id.ID          `json:"warehouseId"`
	MovementType MovementType   `json:"movementType"`
	Requested    types.Quantity `json:"requested"`
	Available    types.Quantity `json:"available"`
	Shortfall    types.Quantity `json:"shortfall"`
	OccurredAt   time.Time      `json:"occurredAt"`
}
