package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"backoffice/internal/core/apperror"
	"backoffice/internal/domain/registers/stock"
	"backoffice/internal/infrastructure/cache"
	"backoffice/internal/infrastructure/http/v1/dto"
)

// InventoryHandler serves the stock ledger.
type InventoryHandler struct {
	*BaseHandler
	service   *stock.Service
	itemStock *cache.ItemStockCache
}

// NewInventoryHandler creates a new inventory handler. itemStock may be nil,
// in which case the cached item stock route reports the service unavailable.
// Write routes never fall back to the default warehouse; a request without
// one fails validation. Forms pre-fill it from GET /warehouses/default.
func NewInventoryHandler(base *BaseHandler, service *stock.Service, itemStock *cache.ItemStockCache) *InventoryHandler {
	return &InventoryHandler{
		BaseHandler: base,
		service:     service,
		itemStock:   itemStock,
	}
}

func queryWarehouse(c *gin.Context) string {
	if v := strings.TrimSpace(c.Query("warehouseId")); v != "" {
		return v
	}
	return strings.TrimSpace(c.Query("warehouseName"))
}

// AppendMovement handles POST /inventory/stock-movements
func (h *InventoryHandler) AppendMovement(c *gin.Context) {
	var req dto.AppendMovementRequest
	if !h.BindJSON(c, &req) {
		return
	}
	res, err := h.service.Append(c.Request.Context(), req.ToInput(req.Ref()))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromMutation(res), res.Warnings...)
}

// Reconcile handles POST /inventory/reconcile
func (h *InventoryHandler) Reconcile(c *gin.Context) {
	var req dto.ReconcileRequest
	if !h.BindJSON(c, &req) {
		return
	}
	if req.NewQuantity == nil {
		h.Error(c, apperror.NewValidationFields(apperror.FieldErrors{
			{Field: "newQuantity", Message: "newQuantity is required"},
		}))
		return
	}
	res, err := h.service.Reconcile(c.Request.Context(), req.ToInput(req.Ref()))
	if err != nil {
		h.Error(c, err)
		return
	}
	if res.Noop() {
		h.OK(c, dto.FromReconcile(res), res.Warnings...)
		return
	}
	h.Created(c, dto.FromReconcile(res), res.Warnings...)
}

// Transfer handles POST /inventory/transfers
func (h *InventoryHandler) Transfer(c *gin.Context) {
	var req dto.TransferRequest
	if !h.BindJSON(c, &req) {
		return
	}

	res, err := h.service.Transfer(c.Request.Context(), req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromTransfer(res), res.Warnings...)
}

// SyncBalance handles POST /inventory/sync-balance
func (h *InventoryHandler) SyncBalance(c *gin.Context) {
	var req dto.SyncBalanceRequest
	if !h.BindJSON(c, &req) {
		return
	}
	res, err := h.service.Recompute(c.Request.Context(), req.ItemID, req.Ref())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromRecompute(res), stock.AnomalyWarnings(res.Anomalies)...)
}

// GetBalance handles GET /inventory/balance/:itemId?warehouseName=
// Without a warehouse the response is the item's total across warehouses.
func (h *InventoryHandler) GetBalance(c *gin.Context) {
	b, err := h.service.GetBalance(c.Request.Context(), c.Param("itemId"), queryWarehouse(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromBalance(*b))
}

// ListBalances handles GET /inventory/balance?warehouseName=&itemId=&excludeZero=
func (h *InventoryHandler) ListBalances(c *gin.Context) {
	excludeZero, ok := h.ParseBoolQuery(c, "excludeZero", false)
	if !ok {
		return
	}

	balances, err := h.service.ListBalances(c.Request.Context(), stock.BalanceQuery{
		ItemID:      strings.TrimSpace(c.Query("itemId")),
		Warehouse:   queryWarehouse(c),
		ExcludeZero: excludeZero,
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewList(dto.MapSlice(balances, dto.FromBalance)))
}

// History handles GET /inventory/stock-movements
func (h *InventoryHandler) History(c *gin.Context) {
	limit, ok := h.ParseIntQuery(c, "limit", 100)
	if !ok {
		return
	}
	offset, ok := h.ParseIntQuery(c, "offset", 0)
	if !ok {
		return
	}
	from, ok := h.ParseTimeQuery(c, "fromDate")
	if !ok {
		return
	}
	to, ok := h.ParseTimeQuery(c, "toDate")
	if !ok {
		return
	}

	q := stock.HistoryQuery{
		ItemID:       strings.TrimSpace(c.Query("itemId")),
		Warehouse:    queryWarehouse(c),
		MovementType: c.Query("movementType"),
		FromDate:     from,
		ToDate:       to,
		Limit:        limit,
		Offset:       offset,
	}
	movements, err := h.service.History(c.Request.Context(), q)
	if err != nil {
		h.Error(c, err)
		return
	}

	list := dto.NewList(dto.MapSlice(movements, dto.FromMovement))
	list.Limit, list.Offset = limit, offset
	h.OK(c, list)
}

// ItemStock handles GET /inventory/items/:itemId/stock
func (h *InventoryHandler) ItemStock(c *gin.Context) {
	if h.itemStock == nil {
		h.Error(c, apperror.NewUnavailable("item stock cache", nil))
		return
	}
	itemID := strings.TrimSpace(c.Param("itemId"))
	if itemID == "" {
		h.Error(c, apperror.NewValidation("itemId is required").WithDetail("field", "itemId"))
		return
	}

	v, err := h.itemStock.Get(c.Request.Context(), itemID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, v)
}
