package invoices

import (
	"context"

	"partnerpay/internal/core/id"
	"partnerpay/internal/domain"
)

// Repository defines the interface for invoice projection persistence.
type Repository interface {
	// Create inserts a new document
	Create(ctx context.Context, inv *Invoice) error

	// GetByID retrieves document by ID
	GetByID(ctx context.Context, id id.ID) (*Invoice, error)

	// GetForUpdate retrieves document with row lock
	GetForUpdate(ctx context.Context, id id.ID) (*Invoice, error)

	// Update modifies existing document (with optimistic locking)
	Update(ctx context.Context, inv *Invoice) error

	// List retrieves documents with filtering and pagination
	List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[*Invoice], error)

	// IsBillPaid reports whether the referenced vendor bill is confirmed paid.
	// Used by the ledger recompute; a missing bill reads as not paid.
	IsBillPaid(ctx context.Context, billID id.ID) (bool, error)
}
