package partners

import (
	"context"

	"partnerpay/internal/core/id"
	"partnerpay/internal/domain"
)

// Repository defines the interface for Partner persistence.
type Repository interface {
	// Create inserts a new partner
	Create(ctx context.Context, p *Partner) error

	// GetByID retrieves partner by ID
	GetByID(ctx context.Context, id id.ID) (*Partner, error)

	// GetForUpdate retrieves partner with row lock (for transactional updates)
	GetForUpdate(ctx context.Context, id id.ID) (*Partner, error)

	// GetByCode retrieves partner by its assigned partner code
	GetByCode(ctx context.Context, code string) (*Partner, error)

	// Update modifies existing partner (with optimistic locking)
	Update(ctx context.Context, p *Partner) error

	// List retrieves partners with filtering and pagination
	List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[*Partner], error)

	// Exists checks if partner with given ID exists
	Exists(ctx context.Context, id id.ID) (bool, error)
}
