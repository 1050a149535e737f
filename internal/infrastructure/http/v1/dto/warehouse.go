package dto

import (
	"time"

	"backoffice/internal/domain/catalogs/warehouse"
)

// WarehouseResponse is the API representation of a warehouse.
type WarehouseResponse struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	IsDefault bool      `json:"isDefault"`
	Address   *string   `json:"address,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FromWarehouse converts entity to response DTO.
func FromWarehouse(w *warehouse.Warehouse) WarehouseResponse {
	return WarehouseResponse{
		ID:        w.ID.String(),
		Code:      w.Code,
		Name:      w.Name,
		Status:    string(w.Status),
		IsDefault: w.IsDefault,
		Address:   w.Address,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}
