package dto

import (
	"partnerpay/internal/core/apperror"
	"partnerpay/internal/core/id"
	"partnerpay/internal/core/types"
	"partnerpay/internal/domain/invoices"
)

// CreateInvoiceRequest for creating invoice documents directly (customer
// invoices and refunds; vendor bills are produced by the payout flow).
type CreateInvoiceRequest struct {
	OrganizationID string       `json:"organizationId" binding:"required"`
	DocType        string       `json:"docType" binding:"required"`
	CustomerName   string       `json:"customerName,omitempty"`
	UntaxedAmount  *types.Money `json:"untaxedAmount,omitempty"`
	Comment        string       `json:"comment,omitempty"`

	// AttributedPartnerID sets an explicit attribution
	AttributedPartnerID *string `json:"attributedPartnerId,omitempty"`

	// ReversedInvoiceID is required for refunds
	ReversedInvoiceID *string `json:"reversedInvoiceId,omitempty"`

	// VisitorKey enables the ambient referral fallback when no explicit
	// attribution is given
	VisitorKey string `json:"visitorKey,omitempty"`
}

// ToInvoice builds a draft document from the request.
func (r *CreateInvoiceRequest) ToInvoice() (*invoices.Invoice, error) {
	inv := invoices.NewInvoice(r.OrganizationID, invoices.DocType(r.DocType))
	inv.CustomerName = r.CustomerName
	inv.Comment = r.Comment
	if r.UntaxedAmount != nil {
		inv.UntaxedAmount = *r.UntaxedAmount
	}

	if r.AttributedPartnerID != nil {
		partnerID, err := id.Parse(*r.AttributedPartnerID)
		if err != nil {
			return nil, apperror.NewValidation("invalid attributed partner id").
				WithDetail("field", "attributedPartnerId")
		}
		inv.AttributedPartnerID = &partnerID
	}

	if r.ReversedInvoiceID != nil {
		reversedID, err := id.Parse(*r.ReversedInvoiceID)
		if err != nil {
			return nil, apperror.NewValidation("invalid reversed invoice id").
				WithDetail("field", "reversedInvoiceId")
		}
		inv.ReversedInvoiceID = &reversedID
	}

	return inv, nil
}

// UpdateInvoiceRequest for updating draft documents. Commission snapshot and
// payment fields are owned by the paid pipeline and are not accepted here.
type UpdateInvoiceRequest struct {
	CustomerName  *string      `json:"customerName,omitempty"`
	UntaxedAmount *types.Money `json:"untaxedAmount,omitempty"`
	Comment       *string      `json:"comment,omitempty"`
	Version       int          `json:"version" binding:"required,min=1"`
}

// Apply copies the request onto the invoice.
func (r *UpdateInvoiceRequest) Apply(inv *invoices.Invoice) {
	if r.CustomerName != nil {
		inv.CustomerName = *r.CustomerName
	}
	if r.UntaxedAmount != nil {
		inv.UntaxedAmount = *r.UntaxedAmount
	}
	if r.Comment != nil {
		inv.Comment = *r.Comment
	}
	inv.Version = r.Version
}
