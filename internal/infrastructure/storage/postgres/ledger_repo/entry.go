// Package ledger_repo provides the PostgreSQL implementation of the
// commission ledger. The append-only guarantee rests on two things here: the
// UNIQUE constraint on invoice_id and the fact that no general UPDATE is
// exposed, only state and linkage writes.
package ledger_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"partnerpay/internal/core/apperror"
	"partnerpay/internal/core/id"
	"partnerpay/internal/domain/ledger"
	"partnerpay/internal/infrastructure/storage/postgres"
)

const entryTable = "ledger_entries"

// EntryRepo implements ledger.Repository.
type EntryRepo struct {
	*postgres.BaseRepo[*ledger.Entry]
}

var _ ledger.Repository = (*EntryRepo)(nil)

// NewEntryRepo creates a new ledger entry repository.
func NewEntryRepo(txm *postgres.TxManager) *EntryRepo {
	return &EntryRepo{
		BaseRepo: postgres.NewBaseRepo(
			txm,
			entryTable,
			postgres.ExtractDBColumns[ledger.Entry](),
			nil,
			func() *ledger.Entry { return &ledger.Entry{} },
		),
	}
}

// Insert creates the entry unless one already exists for its invoice.
// ON CONFLICT DO NOTHING makes concurrent paid-pipeline runs race-free.
func (r *EntryRepo) Insert(ctx context.Context, e *ledger.Entry) (bool, error) {
	data := postgres.StructToMap(e)

	cols := postgres.ExtractDBColumns[ledger.Entry]()
	filtered := make(map[string]any, len(cols))
	for _, col := range cols {
		if val, ok := data[col]; ok {
			filtered[col] = val
		}
	}

	q := r.Builder().
		Insert(entryTable).
		SetMap(filtered).
		Suffix("ON CONFLICT (invoice_id) DO NOTHING")

	sql, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	result, err := r.Querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// GetByInvoiceID retrieves the entry for an invoice.
func (r *EntryRepo) GetByInvoiceID(ctx context.Context, invoiceID id.ID) (*ledger.Entry, error) {
	q := r.BaseSelect().
		Where(squirrel.Eq{"invoice_id": invoiceID}).
		Limit(1)
	return r.FindOne(ctx, q, invoiceID.String())
}

// UpdateState writes a new payout state. The entry's audit fields are never
// touched here.
func (r *EntryRepo) UpdateState(ctx context.Context, entryID id.ID, state ledger.State) error {
	q := r.Builder().
		Update(entryTable).
		Set("state", state).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": entryID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update state: %w", err)
	}

	result, err := r.Querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewNotFound(entryTable, entryID.String())
	}
	return nil
}

// SetVendorBill links entries to a vendor bill.
func (r *EntryRepo) SetVendorBill(ctx context.Context, entryIDs []id.ID, billID id.ID) error {
	if len(entryIDs) == 0 {
		return nil
	}

	q := r.Builder().
		Update(entryTable).
		Set("vendor_bill_id", billID).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": entryIDs})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build set vendor bill: %w", err)
	}

	if _, err := r.Querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("set vendor bill: %w", err)
	}
	return nil
}

// ClaimForBatch assigns payout_batch_id to the given entries. The IS NULL
// guard runs in the same statement, so two batches loading concurrently can
// never claim the same entry; the caller compares the returned count.
func (r *EntryRepo) ClaimForBatch(ctx context.Context, batchID id.ID, entryIDs []id.ID) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}

	q := r.Builder().
		Update(entryTable).
		Set("payout_batch_id", batchID).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": entryIDs}).
		Where(squirrel.Eq{"payout_batch_id": nil})

	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build claim: %w", err)
	}

	result, err := r.Querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("claim for batch: %w", err)
	}
	return result.RowsAffected(), nil
}

// ReleaseBatch clears payout_batch_id for all unbilled entries of the batch.
// Billed entries stay claimed: their bill already references them.
func (r *EntryRepo) ReleaseBatch(ctx context.Context, batchID id.ID) error {
	q := r.Builder().
		Update(entryTable).
		Set("payout_batch_id", nil).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"payout_batch_id": batchID}).
		Where(squirrel.Eq{"vendor_bill_id": nil})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build release: %w", err)
	}

	if _, err := r.Querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("release batch: %w", err)
	}
	return nil
}

// ListByBatch retrieves all entries claimed by the batch.
func (r *EntryRepo) ListByBatch(ctx context.Context, batchID id.ID) ([]*ledger.Entry, error) {
	q := r.BaseSelect().
		Where(squirrel.Eq{"payout_batch_id": batchID}).
		OrderBy("id ASC")
	return r.SelectMany(ctx, q)
}

// ListUnclaimedCandidates retrieves invoice-type entries without a vendor
// bill, without a batch, in state on_hold or payable, for one organization.
func (r *EntryRepo) ListUnclaimedCandidates(ctx context.Context, organizationID string) ([]*ledger.Entry, error) {
	q := r.BaseSelect().
		Where(squirrel.Eq{"organization_id": organizationID}).
		Where(squirrel.Eq{"entry_type": ledger.TypeInvoice}).
		Where(squirrel.Eq{"vendor_bill_id": nil}).
		Where(squirrel.Eq{"payout_batch_id": nil}).
		Where(squirrel.Eq{"state": []ledger.State{ledger.StateOnHold, ledger.StatePayable}}).
		OrderBy("id ASC")
	return r.SelectMany(ctx, q)
}

// CountAlreadyBilled counts invoice-type entries of the organization that
// already carry a vendor bill.
func (r *EntryRepo) CountAlreadyBilled(ctx context.Context, organizationID string) (int64, error) {
	q := r.Builder().
		Select("COUNT(*)").
		From(entryTable).
		Where(squirrel.Eq{"organization_id": organizationID}).
		Where(squirrel.Eq{"entry_type": ledger.TypeInvoice}).
		Where(squirrel.NotEq{"vendor_bill_id": nil})

	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var n int64
	if err := r.Querier(ctx).QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count billed: %w", err)
	}
	return n, nil
}

// ListUnclaimedChunk retrieves unclaimed, unbilled invoice-type entries with
// id greater than afterID, ascending. Used by the recompute sweep.
func (r *EntryRepo) ListUnclaimedChunk(ctx context.Context, afterID id.ID, limit int) ([]*ledger.Entry, error) {
	q := r.BaseSelect().
		Where(squirrel.Eq{"entry_type": ledger.TypeInvoice}).
		Where(squirrel.Eq{"vendor_bill_id": nil}).
		Where(squirrel.Eq{"payout_batch_id": nil}).
		Where(squirrel.Gt{"id": afterID}).
		OrderBy("id ASC").
		Limit(uint64(limit))
	return r.SelectMany(ctx, q)
}
