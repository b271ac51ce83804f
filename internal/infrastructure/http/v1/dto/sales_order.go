package dto

import (
	"partnerpay/internal/core/types"
	"partnerpay/internal/domain/orders"
)

// CreateSalesOrderRequest for creating sales orders.
type CreateSalesOrderRequest struct {
	OrganizationID string       `json:"organizationId" binding:"required"`
	CustomerName   string       `json:"customerName" binding:"required"`
	UntaxedAmount  *types.Money `json:"untaxedAmount,omitempty"`
	Comment        string       `json:"comment,omitempty"`

	// ReferralCode is resolved to a partner at creation time
	ReferralCode string `json:"referralCode,omitempty"`
}

// ToOrder builds a draft order from the request.
func (r *CreateSalesOrderRequest) ToOrder() *orders.SalesOrder {
	o := orders.NewSalesOrder(r.OrganizationID, r.CustomerName)
	o.Comment = r.Comment
	if r.UntaxedAmount != nil {
		o.UntaxedAmount = *r.UntaxedAmount
	}
	return o
}

// UpdateSalesOrderRequest for updating sales orders. Attribution changes go
// through the dedicated attribution endpoint, not here.
type UpdateSalesOrderRequest struct {
	CustomerName  *string      `json:"customerName,omitempty"`
	UntaxedAmount *types.Money `json:"untaxedAmount,omitempty"`
	Comment       *string      `json:"comment,omitempty"`
	Version       int          `json:"version" binding:"required,min=1"`
}

// Apply copies the request onto the order.
func (r *UpdateSalesOrderRequest) Apply(o *orders.SalesOrder) {
	if r.CustomerName != nil {
		o.CustomerName = *r.CustomerName
	}
	if r.UntaxedAmount != nil {
		o.UntaxedAmount = *r.UntaxedAmount
	}
	if r.Comment != nil {
		o.Comment = *r.Comment
	}
	o.Version = r.Version
}

// SetAttributionRequest changes the order's attributed partner via a
// referral code. An empty code clears the attribution.
type SetAttributionRequest struct {
	ReferralCode string `json:"referralCode"`
}
