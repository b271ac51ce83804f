package handlers

import (
	"github.com/gin-gonic/gin"

	"partnerpay/internal/domain/orders"
	"partnerpay/internal/infrastructure/http/v1/dto"
)

// SalesOrderHandler handles sales order endpoints.
type SalesOrderHandler struct {
	*BaseHandler
	service *orders.Service
}

// NewSalesOrderHandler creates a new sales order handler.
func NewSalesOrderHandler(base *BaseHandler, service *orders.Service) *SalesOrderHandler {
	return &SalesOrderHandler{
		BaseHandler: base,
		service:     service,
	}
}

// List handles GET /sales-orders
func (h *SalesOrderHandler) List(c *gin.Context) {
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

// Create handles POST /sales-orders
func (h *SalesOrderHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateSalesOrderRequest
	if !h.BindJSON(c, &req) {
		return
	}

	o := req.ToOrder()
	if err := h.service.Create(ctx, o, req.ReferralCode); err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, o.ID.String())
}

// Get handles GET /sales-orders/:id
func (h *SalesOrderHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	orderID, ok := h.ParseID(c)
	if !ok {
		return
	}

	o, err := h.service.GetByID(ctx, orderID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, o)
}

// Update handles PUT /sales-orders/:id
func (h *SalesOrderHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()

	orderID, ok := h.ParseID(c)
	if !ok {
		return
	}

	var req dto.UpdateSalesOrderRequest
	if !h.BindJSON(c, &req) {
		return
	}

	o, err := h.service.GetByID(ctx, orderID)
	if err != nil {
		h.Error(c, err)
		return
	}

	req.Apply(o)
	if err := h.service.Update(ctx, o); err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, o)
}

// SetAttribution handles POST /sales-orders/:id/attribution
func (h *SalesOrderHandler) SetAttribution(c *gin.Context) {
	ctx := c.Request.Context()

	orderID, ok := h.ParseID(c)
	if !ok {
		return
	}

	var req dto.SetAttributionRequest
	if !h.BindJSON(c, &req) {
		return
	}

	o, err := h.service.SetAttribution(ctx, orderID, req.ReferralCode)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, o)
}

// Confirm handles POST /sales-orders/:id/confirm
func (h *SalesOrderHandler) Confirm(c *gin.Context) {
	ctx := c.Request.Context()

	orderID, ok := h.ParseID(c)
	if !ok {
		return
	}

	o, err := h.service.Confirm(ctx, orderID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, o)
}

// LockAttribution handles POST /sales-orders/:id/lock-attribution
func (h *SalesOrderHandler) LockAttribution(c *gin.Context) {
	ctx := c.Request.Context()

	orderID, ok := h.ParseID(c)
	if !ok {
		return
	}

	o, err := h.service.LockAttribution(ctx, orderID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, o)
}

// UnlockAttribution handles POST /sales-orders/:id/unlock-attribution
func (h *SalesOrderHandler) UnlockAttribution(c *gin.Context) {
	ctx := c.Request.Context()

	orderID, ok := h.ParseID(c)
	if !ok {
		return
	}

	o, err := h.service.UnlockAttribution(ctx, orderID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, o)
}

// ConvertToInvoice handles POST /sales-orders/:id/convert
func (h *SalesOrderHandler) ConvertToInvoice(c *gin.Context) {
	ctx := c.Request.Context()

	orderID, ok := h.ParseID(c)
	if !ok {
		return
	}

	inv, err := h.service.ConvertToInvoice(ctx, orderID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, inv.ID.String())
}
