package ledger

import (
	"context"

	"partnerpay/internal/core/id"
	"partnerpay/internal/domain"
)

// Repository defines the interface for ledger persistence.
// The unique constraint on invoice_id is the real idempotence guard;
// application-level existence checks are a fast path only.
type Repository interface {
	// Insert creates the entry if no entry exists for its invoice yet
	// (INSERT ... ON CONFLICT (invoice_id) DO NOTHING). Reports whether a
	// row was actually inserted.
	Insert(ctx context.Context, e *Entry) (bool, error)

	// GetByID retrieves entry by ID
	GetByID(ctx context.Context, id id.ID) (*Entry, error)

	// GetByInvoiceID retrieves the entry for an invoice
	GetByInvoiceID(ctx context.Context, invoiceID id.ID) (*Entry, error)

	// List retrieves entries with filtering and pagination
	List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[*Entry], error)

	// UpdateState writes a new payout state
	UpdateState(ctx context.Context, entryID id.ID, state State) error

	// SetVendorBill links entries to a vendor bill
	SetVendorBill(ctx context.Context, entryIDs []id.ID, billID id.ID) error

	// ClaimForBatch assigns payout_batch_id to the given entries, guarded
	// by payout_batch_id IS NULL in the same statement. Returns the number
	// of rows actually claimed.
	ClaimForBatch(ctx context.Context, batchID id.ID, entryIDs []id.ID) (int64, error)

	// ReleaseBatch clears payout_batch_id for all unbilled entries of the batch
	ReleaseBatch(ctx context.Context, batchID id.ID) error

	// ListByBatch retrieves all entries claimed by the batch
	ListByBatch(ctx context.Context, batchID id.ID) ([]*Entry, error)

	// ListUnclaimedCandidates retrieves invoice-type entries without a
	// vendor bill, without a batch, in state on_hold or payable, for one
	// organization scope.
	ListUnclaimedCandidates(ctx context.Context, organizationID string) ([]*Entry, error)

	// CountAlreadyBilled counts invoice-type entries of the organization
	// that already carry a vendor bill. Used for operator diagnostics when
	// a batch load finds nothing claimable.
	CountAlreadyBilled(ctx context.Context, organizationID string) (int64, error)

	// ListUnclaimedChunk retrieves unclaimed, unbilled invoice-type entries
	// with id greater than afterID, ascending, limited. Used by sweeps.
	ListUnclaimedChunk(ctx context.Context, afterID id.ID, limit int) ([]*Entry, error)
}
