package entity

import (
	"context"
	"time"

	"partnerpay/internal/core/apperror"
)

// Document is the base type for business documents.
// Examples: SalesOrder, Invoice, PayoutBatch.
type Document struct {
	BaseDocument

	// Number is the document number (sequence-assigned, unique within type+period)
	Number string `db:"number" json:"number"`

	// Date is the business date of the document
	Date time.Time `db:"date" json:"date"`

	// OrganizationID is the owning organization (required for multi-org support)
	OrganizationID string `db:"organization_id" json:"organizationId"`

	// Comment is an optional user comment
	Comment string `db:"comment" json:"comment,omitempty"`
}

// NewDocument creates a new Document with generated ID.
func NewDocument(organizationID string) Document {
	return Document{
		BaseDocument:   NewBaseDocument(),
		Date:           time.Now().UTC(),
		OrganizationID: organizationID,
	}
}

// Validate implements Validatable interface.
func (d *Document) Validate(ctx context.Context) error {
	if d.OrganizationID == "" {
		return apperror.NewValidation("organization is required").
			WithDetail("field", "organizationId")
	}

	if d.Date.IsZero() {
		return apperror.NewValidation("date is required").
			WithDetail("field", "date")
	}

	return nil
}
