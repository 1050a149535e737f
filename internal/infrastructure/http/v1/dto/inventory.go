package dto

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"backoffice/internal/core/entity"
	"backoffice/internal/core/id"
	"backoffice/internal/domain/registers/stock"
	"backoffice/internal/infrastructure/cache"
)

// Quantities and prices are decimals. They accept JSON numbers or strings
// and render as strings so no precision is lost.

// --- Request DTOs ---

// WarehouseRef names a warehouse by id, code or name. WarehouseID wins when both are sent.
type WarehouseRef struct {
	WarehouseID   string `json:"warehouseId"`
	WarehouseName string `json:"warehouseName"`
}

// Ref returns the reference to resolve, or "" when none was sent.
func (r WarehouseRef) Ref() string {
	if v := strings.TrimSpace(r.WarehouseID); v != "" {
		return v
	}
	return strings.TrimSpace(r.WarehouseName)
}

// AppendMovementRequest is the body of POST /inventory/stock-movements.
type AppendMovementRequest struct {
	ItemID string `json:"itemId"`
	WarehouseRef
	MovementType   string           `json:"movementType"`
	Quantity       *decimal.Decimal `json:"quantity"`
	UnitPrice      *decimal.Decimal `json:"unitPrice"`
	DocumentNumber string           `json:"documentNumber"`
	DocumentType   string           `json:"documentType"`
	Description    string           `json:"description"`
	CreatedBy      string           `json:"createdBy"`
}

// ToInput converts the request. Missing numbers become zero so the service
// reports them together with every other invalid field.
func (r *AppendMovementRequest) ToInput(warehouse string) stock.AppendInput {
	return stock.AppendInput{
		ItemID:         r.ItemID,
		Warehouse:      warehouse,
		MovementType:   entity.MovementType(strings.ToUpper(strings.TrimSpace(r.MovementType))),
		Quantity:       orZero(r.Quantity),
		UnitPrice:      orZero(r.UnitPrice),
		DocumentNumber: r.DocumentNumber,
		DocumentType:   r.DocumentType,
		Description:    r.Description,
		Actor:          r.CreatedBy,
	}
}

// ReconcileRequest is the body of POST /inventory/reconcile.
type ReconcileRequest struct {
	ItemID string `json:"itemId"`
	WarehouseRef
	NewQuantity    *decimal.Decimal `json:"newQuantity"`
	UnitPrice      *decimal.Decimal `json:"unitPrice"`
	CreatedBy      string           `json:"createdBy"`
	DocumentNumber string           `json:"documentNumber"`
	Description    string           `json:"description"`
}

// ToInput converts the request.
func (r *ReconcileRequest) ToInput(warehouse string) stock.ReconcileInput {
	return stock.ReconcileInput{
		ItemID:         r.ItemID,
		Warehouse:      warehouse,
		NewQuantity:    orZero(r.NewQuantity),
		UnitPrice:      orZero(r.UnitPrice),
		Actor:          r.CreatedBy,
		DocumentNumber: r.DocumentNumber,
		Description:    r.Description,
	}
}

// TransferRequest is the body of POST /inventory/transfers.
type TransferRequest struct {
	ItemID         string           `json:"itemId"`
	FromWarehouse  string           `json:"fromWarehouse"`
	ToWarehouse    string           `json:"toWarehouse"`
	Quantity       *decimal.Decimal `json:"quantity"`
	CreatedBy      string           `json:"createdBy"`
	DocumentNumber string           `json:"documentNumber"`
	Description    string           `json:"description"`
}

// ToInput converts the request.
func (r *TransferRequest) ToInput() stock.TransferInput {
	return stock.TransferInput{
		ItemID:         r.ItemID,
		From:           r.FromWarehouse,
		To:             r.ToWarehouse,
		Quantity:       orZero(r.Quantity),
		Actor:          r.CreatedBy,
		DocumentNumber: r.DocumentNumber,
		Description:    r.Description,
	}
}

// SyncBalanceRequest is the body of POST /inventory/sync-balance.
type SyncBalanceRequest struct {
	ItemID string `json:"itemId"`
	WarehouseRef
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// --- Response DTOs ---

// BalanceResponse represents a stock balance. WarehouseID is empty for a
// cross-warehouse aggregate.
type BalanceResponse struct {
	ItemID         string          `json:"itemId"`
	WarehouseID    string          `json:"warehouseId,omitempty"`
	WarehouseName  string          `json:"warehouseName,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	TotalValue     decimal.Decimal `json:"totalValue"`
	AveragePrice   decimal.Decimal `json:"averagePrice"`
	AnomalyCount   int             `json:"anomalyCount"`
	MovementCount  int             `json:"movementCount"`
	LastMovementAt *time.Time      `json:"lastMovementAt,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// FromBalance converts entity to response DTO.
func FromBalance(b entity.StockBalance) BalanceResponse {
	resp := BalanceResponse{
		ItemID:        b.ItemID,
		WarehouseName: b.WarehouseName,
		Quantity:      b.Quantity,
		TotalValue:    b.TotalValue,
		AveragePrice:  b.AveragePrice,
		AnomalyCount:  b.AnomalyCount,
		MovementCount: b.MovementCount,
		UpdatedAt:     b.UpdatedAt,
	}
	if !id.IsNil(b.WarehouseID) {
		resp.WarehouseID = b.WarehouseID.String()
	}
	// Zero time renders as an absent field, not "0001-01-01".
	if !b.LastMovementAt.IsZero() {
		t := b.LastMovementAt
		resp.LastMovementAt = &t
	}
	return resp
}

func fromBalancePtr(b *entity.StockBalance) *BalanceResponse {
	if b == nil {
		return nil
	}
	r := FromBalance(*b)
	return &r
}

// MovementResponse represents a stock movement.
type MovementResponse struct {
	ID             string          `json:"id"`
	ItemID         string          `json:"itemId"`
	WarehouseID    string          `json:"warehouseId"`
	WarehouseName  string          `json:"warehouseName"`
	MovementType   string          `json:"movementType"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	DocumentNumber string          `json:"documentNumber,omitempty"`
	DocumentType   string          `json:"documentType,omitempty"`
	Description    string          `json:"description,omitempty"`
	CreatedBy      string          `json:"createdBy"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// FromMovement converts entity to response DTO.
func FromMovement(m entity.StockMovement) MovementResponse {
	return MovementResponse{
		ID:             m.ID.String(),
		ItemID:         m.ItemID,
		WarehouseID:    m.WarehouseID.String(),
		WarehouseName:  m.WarehouseName,
		MovementType:   string(m.MovementType),
		Quantity:       m.Quantity,
		UnitPrice:      m.UnitPrice,
		DocumentNumber: m.DocumentNumber,
		DocumentType:   m.DocumentType,
		Description:    m.Description,
		CreatedBy:      m.CreatedBy,
		CreatedAt:      m.CreatedAt,
	}
}

func fromMovementPtr(m *entity.StockMovement) *MovementResponse {
	if m == nil {
		return nil
	}
	r := FromMovement(*m)
	return &r
}

// MutationResponse is returned by append.
type MutationResponse struct {
	Movement  *MovementResponse       `json:"movement"`
	Balance   *BalanceResponse        `json:"balance,omitempty"`
	Anomalies []entity.BalanceAnomaly `json:"anomalies,omitempty"`
}

// FromMutation converts the service result.
func FromMutation(r *stock.MutationResult) MutationResponse {
	return MutationResponse{
		Movement:  fromMovementPtr(r.Movement),
		Balance:   fromBalancePtr(r.Balance),
		Anomalies: r.Anomalies,
	}
}

// ReconcileResponse is returned by reconcile. Movement is null when the count
// already matched the ledger.
type ReconcileResponse struct {
	MutationResponse
	PreviousQuantity decimal.Decimal `json:"previousQuantity"`
	Delta            decimal.Decimal `json:"delta"`
	Noop             bool            `json:"noop"`
}

// FromReconcile converts the service result.
func FromReconcile(r *stock.ReconcileResult) ReconcileResponse {
	return ReconcileResponse{
		MutationResponse: FromMutation(&r.MutationResult),
		PreviousQuantity: r.PreviousQuantity,
		Delta:            r.Delta,
		Noop:             r.Noop(),
	}
}

// TransferResponse is returned by transfers.
type TransferResponse struct {
	Out         *MovementResponse `json:"out"`
	In          *MovementResponse `json:"in"`
	FromBalance *BalanceResponse  `json:"fromBalance,omitempty"`
	ToBalance   *BalanceResponse  `json:"toBalance,omitempty"`
}

// FromTransfer converts the service result.
func FromTransfer(r *stock.TransferResult) TransferResponse {
	return TransferResponse{
		Out:         fromMovementPtr(r.Out),
		In:          fromMovementPtr(r.In),
		FromBalance: fromBalancePtr(r.FromBalance),
		ToBalance:   fromBalancePtr(r.ToBalance),
	}
}

// RecomputeResponse is returned by sync-balance.
type RecomputeResponse struct {
	Balance   BalanceResponse         `json:"balance"`
	Anomalies []entity.BalanceAnomaly `json:"anomalies,omitempty"`
}

// FromRecompute converts the service result.
func FromRecompute(r *stock.RecomputeResult) RecomputeResponse {
	return RecomputeResponse{
		Balance:   FromBalance(r.Balance),
		Anomalies: r.Anomalies,
	}
}

// ItemStockResponse is the cached, read-only stock of an item.
type ItemStockResponse = cache.ItemStock
