package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"partnerpay/internal/core/id"
	"partnerpay/internal/domain/partners"
	"partnerpay/internal/infrastructure/http/v1/dto"
)

// PartnerHandler handles partner directory endpoints.
type PartnerHandler struct {
	*BaseHandler
	service *partners.Service
}

// NewPartnerHandler creates a new partner handler.
func NewPartnerHandler(base *BaseHandler, service *partners.Service) *PartnerHandler {
	return &PartnerHandler{
		BaseHandler: base,
		service:     service,
	}
}

// List handles GET /partners
func (h *PartnerHandler) List(c *gin.Context) {
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

// Create handles POST /partners
func (h *PartnerHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreatePartnerRequest
	if !h.BindJSON(c, &req) {
		return
	}

	p := req.ToPartner()
	if err := h.service.Create(ctx, p); err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, p.ID.String())
}

// Get handles GET /partners/:id
func (h *PartnerHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	partnerID, ok := h.ParseID(c)
	if !ok {
		return
	}

	p, err := h.service.GetByID(ctx, partnerID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, p)
}

// Update handles PUT /partners/:id
func (h *PartnerHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()

	partnerID, ok := h.ParseID(c)
	if !ok {
		return
	}

	var req dto.UpdatePartnerRequest
	if !h.BindJSON(c, &req) {
		return
	}

	p, err := h.service.GetByID(ctx, partnerID)
	if err != nil {
		h.Error(c, err)
		return
	}

	req.Apply(p)
	if err := h.service.Update(ctx, p); err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, p)
}

// Approve handles POST /partners/:id/approve
func (h *PartnerHandler) Approve(c *gin.Context) {
	ctx := c.Request.Context()

	partnerID, ok := h.ParseID(c)
	if !ok {
		return
	}

	p, err := h.service.Approve(ctx, partnerID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, p)
}

// ResetToDraft handles POST /partners/:id/reset-to-draft
func (h *PartnerHandler) ResetToDraft(c *gin.Context) {
	ctx := c.Request.Context()

	partnerID, ok := h.ParseID(c)
	if !ok {
		return
	}

	p, err := h.service.ResetToDraft(ctx, partnerID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, p)
}

// SetKYCStatus handles POST /partners/:id/kyc-status
func (h *PartnerHandler) SetKYCStatus(c *gin.Context) {
	ctx := c.Request.Context()

	partnerID, ok := h.ParseID(c)
	if !ok {
		return
	}

	var req dto.SetKYCStatusRequest
	if !h.BindJSON(c, &req) {
		return
	}

	p, err := h.service.SetKYCStatus(ctx, partnerID, partners.KYCStatus(req.Status))
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, p)
}

// Block handles POST /partners/:id/block
func (h *PartnerHandler) Block(c *gin.Context) {
	h.blockAction(c, true)
}

// Unblock handles POST /partners/:id/unblock
func (h *PartnerHandler) Unblock(c *gin.Context) {
	h.blockAction(c, false)
}

func (h *PartnerHandler) blockAction(c *gin.Context, block bool) {
	ctx := c.Request.Context()

	partnerID, ok := h.ParseID(c)
	if !ok {
		return
	}

	var p *partners.Partner
	var err error
	if block {
		p, err = h.service.Block(ctx, partnerID)
	} else {
		p, err = h.service.Unblock(ctx, partnerID)
	}
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, p)
}

// SetBankVerified handles POST /partners/:id/bank-verified
func (h *PartnerHandler) SetBankVerified(c *gin.Context) {
	h.verifyAction(c, h.service.SetBankVerified)
}

// SetCompanyVerified handles POST /partners/:id/company-verified
func (h *PartnerHandler) SetCompanyVerified(c *gin.Context) {
	h.verifyAction(c, h.service.SetCompanyVerified)
}

// SetVATVerified handles POST /partners/:id/vat-verified
func (h *PartnerHandler) SetVATVerified(c *gin.Context) {
	h.verifyAction(c, h.service.SetVATVerified)
}

func (h *PartnerHandler) verifyAction(c *gin.Context, fn func(ctx context.Context, partnerID id.ID, verified bool) (*partners.Partner, error)) {
	ctx := c.Request.Context()

	partnerID, ok := h.ParseID(c)
	if !ok {
		return
	}

	var req dto.SetVerifiedRequest
	if !h.BindJSON(c, &req) {
		return
	}

	p, err := fn(ctx, partnerID, req.Verified)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, p)
}
