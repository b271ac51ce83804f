package handlers

import (
	"github.com/gin-gonic/gin"

	"partnerpay/internal/domain/attribution"
	"partnerpay/internal/infrastructure/http/v1/dto"
)

// ReferralHandler handles referral capture endpoints.
type ReferralHandler struct {
	*BaseHandler
	resolver *attribution.Resolver
}

// NewReferralHandler creates a new referral handler.
func NewReferralHandler(base *BaseHandler, resolver *attribution.Resolver) *ReferralHandler {
	return &ReferralHandler{
		BaseHandler: base,
		resolver:    resolver,
	}
}

// Capture handles POST /referrals/capture. The code is stored raw; whether
// it resolves to a partner is decided when it is actually used.
func (h *ReferralHandler) Capture(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CaptureReferralRequest
	if !h.BindJSON(c, &req) {
		return
	}

	if err := h.resolver.Capture(ctx, req.VisitorKey, req.Code); err != nil {
		h.Error(c, err)
		return
	}

	h.NoContent(c)
}
