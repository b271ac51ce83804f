package orders

import (
	"context"

	"partnerpay/internal/core/id"
	"partnerpay/internal/domain"
)

// Repository defines the interface for SalesOrder persistence.
type Repository interface {
	// Create inserts a new order
	Create(ctx context.Context, o *SalesOrder) error

	// GetByID retrieves order by ID
	GetByID(ctx context.Context, id id.ID) (*SalesOrder, error)

	// GetForUpdate retrieves order with row lock
	GetForUpdate(ctx context.Context, id id.ID) (*SalesOrder, error)

	// Update modifies existing order (with optimistic locking)
	Update(ctx context.Context, o *SalesOrder) error

	// List retrieves orders with filtering and pagination
	List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[*SalesOrder], error)
}
