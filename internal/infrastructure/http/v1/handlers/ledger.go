package handlers

import (
	"github.com/gin-gonic/gin"

	"partnerpay/internal/domain/ledger"
	"partnerpay/internal/infrastructure/http/v1/dto"
)

// LedgerHandler handles commission ledger endpoints. The ledger is
// append-only: there are no create, update or delete routes.
type LedgerHandler struct {
	*BaseHandler
	service *ledger.Service
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(base *BaseHandler, service *ledger.Service) *LedgerHandler {
	return &LedgerHandler{
		BaseHandler: base,
		service:     service,
	}
}

// List handles GET /ledger/entries
func (h *LedgerHandler) List(c *gin.Context) {
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

// Get handles GET /ledger/entries/:id
func (h *LedgerHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	entryID, ok := h.ParseID(c)
	if !ok {
		return
	}

	e, err := h.service.GetByID(ctx, entryID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, e)
}

// Recompute handles POST /ledger/entries/:id/recompute
func (h *LedgerHandler) Recompute(c *gin.Context) {
	ctx := c.Request.Context()

	entryID, ok := h.ParseID(c)
	if !ok {
		return
	}

	e, err := h.service.GetByID(ctx, entryID)
	if err != nil {
		h.Error(c, err)
		return
	}

	if err := h.service.RecomputePayoutState(ctx, []*ledger.Entry{e}); err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, e)
}
