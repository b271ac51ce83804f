// Package orders provides the sales order document with partner attribution.
// The order is where attribution is resolved and locked; on conversion the
// invoice receives a verbatim copy.
package orders

import (
	"context"
	"time"

	"partnerpay/internal/core/apperror"
	"partnerpay/internal/core/entity"
	"partnerpay/internal/core/id"
	"partnerpay/internal/core/types"
)

// Stage of the order lifecycle.
type Stage string

const (
	StageDraft     Stage = "draft"
	StageConfirmed Stage = "confirmed"
	StageDone      Stage = "done"
)

// SalesOrder is a commercial document attributed to at most one partner.
// AttributedPartnerID is the single source of truth; the partner code shown
// to users is a display projection of the partner record, never stored here.
type SalesOrder struct {
	entity.Document

	CustomerName string `db:"customer_name" json:"customerName"`

	Stage Stage `db:"stage" json:"stage"`

	UntaxedAmount types.Money `db:"untaxed_amount" json:"untaxedAmount"`

	AttributedPartnerID *id.ID     `db:"attributed_partner_id" json:"attributedPartnerId,omitempty"`
	AttributionLocked   bool       `db:"attribution_locked" json:"attributionLocked"`
	AttributionLockedAt *time.Time `db:"attribution_locked_at" json:"attributionLockedAt,omitempty"`
	AttributionLockedBy string     `db:"attribution_locked_by" json:"attributionLockedBy,omitempty"`

	// InvoiceID links to the invoice produced by conversion
	InvoiceID *id.ID `db:"invoice_id" json:"invoiceId,omitempty"`
}

// NewSalesOrder creates a draft order.
func NewSalesOrder(organizationID, customerName string) *SalesOrder {
	return &SalesOrder{
		Document:     entity.NewDocument(organizationID),
		CustomerName: customerName,
		Stage:        StageDraft,
	}
}

// Validate implements entity.Validatable.
func (o *SalesOrder) Validate(ctx context.Context) error {
	if err := o.Document.Validate(ctx); err != nil {
		return err
	}

	if o.CustomerName == "" {
		return apperror.NewValidation("customer name is required").
			WithDetail("field", "customerName")
	}

	switch o.Stage {
	case StageDraft, StageConfirmed, StageDone:
	default:
		return apperror.NewValidation("invalid order stage").
			WithDetail("field", "stage").
			WithDetail("value", string(o.Stage))
	}

	if o.UntaxedAmount.IsNegative() {
		return apperror.NewValidation("untaxed amount cannot be negative").
			WithDetail("field", "untaxedAmount")
	}

	return nil
}

// IsDraft reports whether the order is still editable.
func (o *SalesOrder) IsDraft() bool {
	return o.Stage == StageDraft
}

// checkAttributionWritable validates an incoming attribution change against
// the current persisted state. While locked, attribution and lock metadata
// are write-once; outside draft, attribution may not change at all.
func (o *SalesOrder) checkAttributionWritable(incoming *SalesOrder) error {
	if !partnerEqual(o.AttributedPartnerID, incoming.AttributedPartnerID) {
		if o.AttributionLocked {
			return apperror.NewAttributionLocked("sales_order", o.ID.String())
		}
		if !o.IsDraft() {
			return apperror.NewBusinessRule(
				apperror.CodeAttributionLocked,
				"attribution may only change while the order is draft",
			).WithDetail("order_id", o.ID.String())
		}
	}

	if o.AttributionLocked {
		if incoming.AttributionLocked != o.AttributionLocked ||
			incoming.AttributionLockedBy != o.AttributionLockedBy ||
			!lockTimeEqual(incoming.AttributionLockedAt, o.AttributionLockedAt) {
			return apperror.NewImmutableField("sales_order", "attributionLock")
		}
	}

	return nil
}

func partnerEqual(a, b *id.ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func lockTimeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
