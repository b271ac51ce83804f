package payout

import (
	"context"

	"partnerpay/internal/core/id"
	"partnerpay/internal/domain"
)

// Repository defines the interface for Batch persistence.
type Repository interface {
	// Create inserts a new batch
	Create(ctx context.Context, b *Batch) error

	// GetByID retrieves batch by ID
	GetByID(ctx context.Context, id id.ID) (*Batch, error)

	// GetForUpdate retrieves batch with row lock
	GetForUpdate(ctx context.Context, id id.ID) (*Batch, error)

	// Update modifies existing batch (with optimistic locking)
	Update(ctx context.Context, b *Batch) error

	// List retrieves batches with filtering and pagination
	List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[*Batch], error)

	// ListOpenChunk retrieves generated (not yet done) batches with id
	// greater than afterID, ascending, limited. Used by the payment sweep.
	ListOpenChunk(ctx context.Context, afterID id.ID, limit int) ([]*Batch, error)
}
