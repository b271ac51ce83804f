// Package invoices provides the local projection of the invoice and payment
// store: customer invoices, customer refunds and vendor bills (the payout
// obligations). The paid-invoice pipeline that feeds the commission ledger
// lives here.
package invoices

import (
	"context"
	"time"

	"partnerpay/internal/core/apperror"
	"partnerpay/internal/core/entity"
	"partnerpay/internal/core/id"
	"partnerpay/internal/core/types"
)

// DocType of the commercial document.
type DocType string

const (
	DocCustomerInvoice DocType = "customer_invoice"
	DocCustomerRefund  DocType = "customer_refund"
	DocVendorBill      DocType = "vendor_bill"
)

// PostingState of the document lifecycle.
type PostingState string

const (
	PostingDraft  PostingState = "draft"
	PostingPosted PostingState = "posted"
)

// PaymentState of the document settlement.
type PaymentState string

const (
	PaymentNotPaid PaymentState = "not_paid"
	PaymentPaid    PaymentState = "paid"
)

// Invoice is one document in the projection. Vendor bills reuse the same
// shape: for them AttributedPartnerID is the payee.
type Invoice struct {
	entity.Document

	DocType      DocType      `db:"doc_type" json:"docType"`
	PostingState PostingState `db:"posting_state" json:"postingState"`
	PaymentState PaymentState `db:"payment_state" json:"paymentState"`
	PaidAt       *time.Time   `db:"paid_at" json:"paidAt,omitempty"`

	CustomerName  string      `db:"customer_name" json:"customerName,omitempty"`
	UntaxedAmount types.Money `db:"untaxed_amount" json:"untaxedAmount"`

	// Attribution (copied verbatim from the source order on conversion)
	AttributedPartnerID *id.ID     `db:"attributed_partner_id" json:"attributedPartnerId,omitempty"`
	AttributionLocked   bool       `db:"attribution_locked" json:"attributionLocked"`
	AttributionLockedAt *time.Time `db:"attribution_locked_at" json:"attributionLockedAt,omitempty"`
	AttributionLockedBy string     `db:"attribution_locked_by" json:"attributionLockedBy,omitempty"`

	// Commission snapshot written by the paid pipeline, frozen thereafter
	CommissionRateUsed *types.Rate  `db:"commission_rate_used" json:"commissionRateUsed,omitempty"`
	CommissionAmount   *types.Money `db:"commission_amount" json:"commissionAmount,omitempty"`

	// VendorBillID links a customer document to the bill paying out its commission
	VendorBillID *id.ID `db:"vendor_bill_id" json:"vendorBillId,omitempty"`

	// ReversedInvoiceID links a refund to the invoice it reverses
	ReversedInvoiceID *id.ID `db:"reversed_invoice_id" json:"reversedInvoiceId,omitempty"`

	// SourceOrderID links back to the sales order this invoice came from
	SourceOrderID *id.ID `db:"source_order_id" json:"sourceOrderId,omitempty"`
}

// NewInvoice creates a draft, unpaid document.
func NewInvoice(organizationID string, docType DocType) *Invoice {
	return &Invoice{
		Document:     entity.NewDocument(organizationID),
		DocType:      docType,
		PostingState: PostingDraft,
		PaymentState: PaymentNotPaid,
	}
}

// Validate implements entity.Validatable.
func (inv *Invoice) Validate(ctx context.Context) error {
	if err := inv.Document.Validate(ctx); err != nil {
		return err
	}

	switch inv.DocType {
	case DocCustomerInvoice, DocCustomerRefund, DocVendorBill:
	default:
		return apperror.NewValidation("invalid document type").
			WithDetail("field", "docType").
			WithDetail("value", string(inv.DocType))
	}

	if inv.DocType == DocCustomerRefund && inv.ReversedInvoiceID == nil {
		return apperror.NewValidation("refund must reference the reversed invoice").
			WithDetail("field", "reversedInvoiceId")
	}

	if inv.DocType == DocVendorBill && inv.AttributedPartnerID == nil {
		return apperror.NewValidation("vendor bill requires a payee partner").
			WithDetail("field", "attributedPartnerId")
	}

	return nil
}

// IsRefund reports whether the document is a customer refund.
func (inv *Invoice) IsRefund() bool {
	return inv.DocType == DocCustomerRefund
}

// IsCustomerDoc reports whether the document participates in attribution.
func (inv *Invoice) IsCustomerDoc() bool {
	return inv.DocType == DocCustomerInvoice || inv.DocType == DocCustomerRefund
}

// IsPosted reports whether the document reached the posted lifecycle state.
func (inv *Invoice) IsPosted() bool {
	return inv.PostingState == PostingPosted
}

// IsPaid reports whether the document is fully settled.
func (inv *Invoice) IsPaid() bool {
	return inv.PaymentState == PaymentPaid
}

// LockAttribution sets the monotonic lock, stamping actor and time.
// No-op when already locked.
func (inv *Invoice) LockAttribution(actor string) {
	if inv.AttributionLocked {
		return
	}
	now := time.Now().UTC()
	inv.AttributionLocked = true
	inv.AttributionLockedAt = &now
	inv.AttributionLockedBy = actor
}

// checkAttributionWritable validates an incoming attribution change against
// the current persisted state.
func (inv *Invoice) checkAttributionWritable(incoming *Invoice) error {
	if !attributionEqual(inv.AttributedPartnerID, incoming.AttributedPartnerID) {
		if inv.AttributionLocked {
			return apperror.NewAttributionLocked("invoice", inv.ID.String())
		}
		if inv.PostingState != PostingDraft {
			return apperror.NewBusinessRule(
				apperror.CodeAttributionLocked,
				"attribution may only change while the document is draft",
			).WithDetail("invoice_id", inv.ID.String())
		}
	}

	if inv.AttributionLocked {
		// Lock metadata is write-once alongside the lock itself.
		if incoming.AttributionLocked != inv.AttributionLocked ||
			incoming.AttributionLockedBy != inv.AttributionLockedBy ||
			!timeEqual(incoming.AttributionLockedAt, inv.AttributionLockedAt) {
			return apperror.NewImmutableField("invoice", "attributionLock")
		}
	}

	return nil
}

func attributionEqual(a, b *id.ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
