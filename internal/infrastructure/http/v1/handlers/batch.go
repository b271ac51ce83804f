package handlers

import (
	"github.com/gin-gonic/gin"

	"partnerpay/internal/domain/payout"
	"partnerpay/internal/infrastructure/http/v1/dto"
)

// BatchHandler handles payout batch endpoints.
type BatchHandler struct {
	*BaseHandler
	service *payout.Service
}

// NewBatchHandler creates a new payout batch handler.
func NewBatchHandler(base *BaseHandler, service *payout.Service) *BatchHandler {
	return &BatchHandler{
		BaseHandler: base,
		service:     service,
	}
}

// List handles GET /payout-batches
func (h *BatchHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var q dto.ListQuery
	if !h.BindQuery(c, &q) {
		return
	}
	filter, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.service.List(ctx, filter)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromListResult(result))
}

// Create handles POST /payout-batches
func (h *BatchHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateBatchRequest
	if !h.BindJSON(c, &req) {
		return
	}

	b, err := h.service.Create(ctx, req.OrganizationID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, b.ID.String())
}

// Get handles GET /payout-batches/:id
func (h *BatchHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	batchID, ok := h.ParseID(c)
	if !ok {
		return
	}

	b, err := h.service.GetByID(ctx, batchID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, b)
}

// Entries handles GET /payout-batches/:id/entries
func (h *BatchHandler) Entries(c *gin.Context) {
	ctx := c.Request.Context()

	batchID, ok := h.ParseID(c)
	if !ok {
		return
	}

	entries, err := h.service.Entries(ctx, batchID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ListResponse{
		Items:      entries,
		TotalCount: int64(len(entries)),
	})
}

// LoadPayables handles POST /payout-batches/:id/load-payables
func (h *BatchHandler) LoadPayables(c *gin.Context) {
	ctx := c.Request.Context()

	batchID, ok := h.ParseID(c)
	if !ok {
		return
	}

	entries, err := h.service.LoadPayables(ctx, batchID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ListResponse{
		Items:      entries,
		TotalCount: int64(len(entries)),
	})
}

// GenerateVendorBills handles POST /payout-batches/:id/generate-bills
func (h *BatchHandler) GenerateVendorBills(c *gin.Context) {
	ctx := c.Request.Context()

	batchID, ok := h.ParseID(c)
	if !ok {
		return
	}

	b, err := h.service.GenerateVendorBills(ctx, batchID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, b)
}

// SyncPaidStatus handles POST /payout-batches/:id/sync-paid
func (h *BatchHandler) SyncPaidStatus(c *gin.Context) {
	ctx := c.Request.Context()

	batchID, ok := h.ParseID(c)
	if !ok {
		return
	}

	b, err := h.service.SyncPaidStatus(ctx, batchID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, b)
}
