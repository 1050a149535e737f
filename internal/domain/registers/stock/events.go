package stock

import (
	"context"
	"time"

	"backoffice/internal/core/entity"
	"backoffice/internal/core/id"
	"backoffice/internal/core/types"
)

// Channels published by the ledger.
const (
	ChannelMovementCreated   = "stock_movement_created"
	ChannelBalanceUpdated    = "balance_updated"
	ChannelAlertUpdated      = "alert_updated"
	ChannelTransferCompleted = "transfer_completed"
)

// Channels lists every channel the ledger publishes on.
func Channels() []string {
	return []string{
		ChannelMovementCreated,
		ChannelBalanceUpdated,
		ChannelAlertUpdated,
		ChannelTransferCompleted,
	}
}

// Publisher delivers change notifications to observers.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// ChangeEvent is the payload of stock_movement_created and balance_updated.
type ChangeEvent struct {
	ItemID        string               `json:"itemId"`
	WarehouseID   id.ID                `json:"warehouseId"`
	WarehouseName string               `json:"warehouseName"`
	MovementType  entity.MovementType  `json:"movementType,omitempty"`
	Quantity      types.Quantity       `json:"quantity"`
	MovementID    *id.ID               `json:"movementId,omitempty"`
	Balance       *entity.StockBalance `json:"balance,omitempty"`
}

// Subject returns the item the event concerns.
func (e ChangeEvent) Subject() string { return e.ItemID }

// AlertEvent is the payload of alert_updated.
type AlertEvent struct {
	ItemID        string                  `json:"itemId"`
	WarehouseID   id.ID                   `json:"warehouseId"`
	WarehouseName string                  `json:"warehouseName"`
	Anomalies     []entity.BalanceAnomaly `json:"anomalies"`
}

// Subject returns the item the event concerns.
func (e AlertEvent) Subject() string { return e.ItemID }

// TransferEvent is the payload of transfer_completed.
type TransferEvent struct {
	ItemID        string         `json:"itemId"`
	FromWarehouse string         `json:"fromWarehouse"`
	ToWarehouse   string         `json:"toWarehouse"`
	Quantity      types.Quantity `json:"quantity"`
	UnitPrice     types.Money    `json:"unitPrice"`
	OutMovementID id.ID          `json:"outMovementId"`
	InMovementID  id.ID          `json:"inMovementId"`
	CompletedAt   time.Time      `json:"completedAt"`
}

// Subject returns the item the event concerns.
func (e TransferEvent) Subject() string { return e.ItemID }

// Recorder receives ledger measurements.
type Recorder interface {
	MovementAppended(t entity.MovementType)
	ReconcileCompleted(outcome string)
	AnomaliesDetected(n int)
	ProjectionStale()
	RecomputeObserved(d time.Duration, err error)
}

// Reconcile outcomes reported to Recorder.
const (
	OutcomeNoop      = "noop"
	OutcomeIncrement = "increment"
	OutcomeDecrement = "decrement"
	OutcomeRejected  = "rejected"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) error { return nil }

type nopRecorder struct{}

func (nopRecorder) MovementAppended(entity.MovementType)   {}
func (nopRecorder) ReconcileCompleted(string)              {}
func (nopRecorder) AnomaliesDetected(int)                  {}
func (nopRecorder) ProjectionStale()                       {}
func (nopRecorder) RecomputeObserved(time.Duration, error) {}
