package handlers

import (
	"github.com/gin-gonic/gin"

	"backoffice/internal/core/apperror"
	"backoffice/internal/domain/catalogs/warehouse"
	"backoffice/internal/infrastructure/http/v1/dto"
)

// WarehouseHandler serves the warehouse registry.
type WarehouseHandler struct {
	*BaseHandler
	service *warehouse.Service
}

// NewWarehouseHandler creates a new warehouse handler.
func NewWarehouseHandler(base *BaseHandler, service *warehouse.Service) *WarehouseHandler {
	return &WarehouseHandler{BaseHandler: base, service: service}
}

// List handles GET /warehouses?status=active
func (h *WarehouseHandler) List(c *gin.Context) {
	var status *warehouse.Status
	if raw := c.Query("status"); raw != "" {
		s := warehouse.Status(raw)
		if !s.IsValid() {
			h.Error(c, apperror.NewValidation("status must be active or inactive").WithDetail("field", "status"))
			return
		}
		status = &s
	}

	items, err := h.service.List(c.Request.Context(), status)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewList(dto.MapSlice(items, dto.FromWarehouse)))
}

// Default handles GET /warehouses/default
func (h *WarehouseHandler) Default(c *gin.Context) {
	w, err := h.service.ResolveDefault(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromWarehouse(w))
}
