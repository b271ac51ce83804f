package document_repo

import (
	"context"

	"github.com/Masterminds/squirrel"

	"partnerpay/internal/core/id"
	"partnerpay/internal/domain/payout"
	"partnerpay/internal/infrastructure/storage/postgres"
)

const batchTable = "payout_batches"

// BatchRepo implements payout.Repository.
type BatchRepo struct {
	*postgres.BaseRepo[*payout.Batch]
}

var _ payout.Repository = (*BatchRepo)(nil)

// NewBatchRepo creates a new payout batch repository.
func NewBatchRepo(txm *postgres.TxManager) *BatchRepo {
	return &BatchRepo{
		BaseRepo: postgres.NewBaseRepo(
			txm,
			batchTable,
			postgres.ExtractDBColumns[payout.Batch](),
			[]string{"number"},
			func() *payout.Batch { return &payout.Batch{} },
		),
	}
}

// ListOpenChunk retrieves generated batches with id greater than afterID,
// ascending. UUIDv7 ids are time-ordered, so the cursor also covers batches
// generated while a sweep is running.
func (r *BatchRepo) ListOpenChunk(ctx context.Context, afterID id.ID, limit int) ([]*payout.Batch, error) {
	q := r.BaseSelect().
		Where(squirrel.Eq{"state": payout.StateGenerated}).
		Where(squirrel.Gt{"id": afterID}).
		OrderBy("id ASC").
		Limit(uint64(limit))

	return r.SelectMany(ctx, q)
}
