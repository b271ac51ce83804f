package handlers

import (
	"github.com/gin-gonic/gin"

	"partnerpay/internal/domain/invoices"
	"partnerpay/internal/infrastructure/http/v1/dto"
)

// InvoiceHandler handles invoice document endpoints.
type InvoiceHandler struct {
	*BaseHandler
	service *invoices.Service
}

// NewInvoiceHandler creates a new invoice handler.
func NewInvoiceHandler(base *BaseHandler, service *invoices.Service) *InvoiceHandler {
	return &InvoiceHandler{
		BaseHandler: base,
		service:     service,
	}
}

// List handles GET /invoices
func (h *InvoiceHandler) List(c *gin.Context) {
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

// Create handles POST /invoices
func (h *InvoiceHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateInvoiceRequest
	if !h.BindJSON(c, &req) {
		return
	}

	inv, err := req.ToInvoice()
	if err != nil {
		h.Error(c, err)
		return
	}

	if err := h.service.Create(ctx, inv, req.VisitorKey); err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, inv.ID.String())
}

// Get handles GET /invoices/:id
func (h *InvoiceHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	invoiceID, ok := h.ParseID(c)
	if !ok {
		return
	}

	inv, err := h.service.GetByID(ctx, invoiceID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, inv)
}

// Update handles PUT /invoices/:id
func (h *InvoiceHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()

	invoiceID, ok := h.ParseID(c)
	if !ok {
		return
	}

	var req dto.UpdateInvoiceRequest
	if !h.BindJSON(c, &req) {
		return
	}

	inv, err := h.service.GetByID(ctx, invoiceID)
	if err != nil {
		h.Error(c, err)
		return
	}

	req.Apply(inv)
	if err := h.service.Update(ctx, inv); err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, inv)
}

// Post handles POST /invoices/:id/post
func (h *InvoiceHandler) Post(c *gin.Context) {
	ctx := c.Request.Context()

	invoiceID, ok := h.ParseID(c)
	if !ok {
		return
	}

	inv, err := h.service.Post(ctx, invoiceID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, inv)
}

// MarkPaid handles POST /invoices/:id/mark-paid
func (h *InvoiceHandler) MarkPaid(c *gin.Context) {
	ctx := c.Request.Context()

	invoiceID, ok := h.ParseID(c)
	if !ok {
		return
	}

	inv, err := h.service.MarkPaid(ctx, invoiceID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, inv)
}

// MarkBillPaid handles POST /invoices/:id/mark-bill-paid
func (h *InvoiceHandler) MarkBillPaid(c *gin.Context) {
	ctx := c.Request.Context()

	billID, ok := h.ParseID(c)
	if !ok {
		return
	}

	bill, err := h.service.MarkBillPaid(ctx, billID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, bill)
}
