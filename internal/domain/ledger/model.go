// Package ledger provides the append-only commission ledger: one immutable
// audit entry per paid invoice, with a per-entry payout state machine.
package ledger

import (
	"context"
	"time"

	"partnerpay/internal/core/apperror"
	"partnerpay/internal/core/entity"
	"partnerpay/internal/core/id"
	"partnerpay/internal/core/types"
)

// EntryType distinguishes invoice entries from refund entries.
type EntryType string

const (
	TypeInvoice EntryType = "invoice"
	TypeRefund  EntryType = "refund"
)

// State of the payout lifecycle for one entry.
type State string

const (
	StateOnHold   State = "on_hold"
	StatePayable  State = "payable"
	StatePaid     State = "paid"
	StateReversed State = "reversed"
)

// Entry is one commission ledger record. Core audit fields (partner,
// invoice, type, amounts, paid timestamp) are frozen at creation; only
// State, VendorBillID and PayoutBatchID ever change. Entries are never
// deleted.
type Entry struct {
	entity.BaseDocument

	OrganizationID string `db:"organization_id" json:"organizationId"`

	PartnerID id.ID `db:"partner_id" json:"partnerId"`

	// InvoiceID is unique: at most one entry per invoice
	InvoiceID id.ID `db:"invoice_id" json:"invoiceId"`

	// OriginInvoiceID references the reversed invoice for refund entries
	OriginInvoiceID *id.ID `db:"origin_invoice_id" json:"originInvoiceId,omitempty"`

	EntryType EntryType `db:"entry_type" json:"entryType"`

	CommissionRateUsed     types.Rate  `db:"commission_rate_used" json:"commissionRateUsed"`
	CommissionAmountSigned types.Money `db:"commission_amount_signed" json:"commissionAmountSigned"`

	State State `db:"state" json:"state"`

	VendorBillID  *id.ID `db:"vendor_bill_id" json:"vendorBillId,omitempty"`
	PayoutBatchID *id.ID `db:"payout_batch_id" json:"payoutBatchId,omitempty"`

	InvoicePaidAt *time.Time `db:"invoice_paid_at" json:"invoicePaidAt,omitempty"`
}

// Validate implements entity.Validatable.
func (e *Entry) Validate(ctx context.Context) error {
	if e.OrganizationID == "" {
		return apperror.NewValidation("organization is required").
			WithDetail("field", "organizationId")
	}
	if id.IsNil(e.PartnerID) {
		return apperror.NewValidation("partner is required").
			WithDetail("field", "partnerId")
	}
	if id.IsNil(e.InvoiceID) {
		return apperror.NewValidation("invoice is required").
			WithDetail("field", "invoiceId")
	}

	switch e.EntryType {
	case TypeInvoice, TypeRefund:
	default:
		return apperror.NewValidation("invalid entry type").
			WithDetail("field", "entryType").
			WithDetail("value", string(e.EntryType))
	}

	return nil
}

// IsRefund reports whether this is a refund entry.
func (e *Entry) IsRefund() bool {
	return e.EntryType == TypeRefund
}

// coreFieldsEqual compares the immutable audit fields of two revisions.
func (e *Entry) coreFieldsEqual(other *Entry) bool {
	return e.PartnerID == other.PartnerID &&
		e.InvoiceID == other.InvoiceID &&
		e.EntryType == other.EntryType &&
		e.OrganizationID == other.OrganizationID &&
		e.CommissionRateUsed.Equal(other.CommissionRateUsed) &&
		e.CommissionAmountSigned.Equal(other.CommissionAmountSigned) &&
		idPtrEqual(e.OriginInvoiceID, other.OriginInvoiceID) &&
		timePtrEqual(e.InvoicePaidAt, other.InvoicePaidAt)
}

func idPtrEqual(a, b *id.ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
