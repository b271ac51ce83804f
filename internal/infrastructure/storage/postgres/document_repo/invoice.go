package document_repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"partnerpay/internal/core/id"
	"partnerpay/internal/domain/invoices"
	"partnerpay/internal/infrastructure/storage/postgres"
)

const invoiceTable = "invoices"

// InvoiceRepo implements invoices.Repository.
type InvoiceRepo struct {
	*postgres.BaseRepo[*invoices.Invoice]
}

var _ invoices.Repository = (*InvoiceRepo)(nil)

// NewInvoiceRepo creates a new invoice repository.
func NewInvoiceRepo(txm *postgres.TxManager) *InvoiceRepo {
	return &InvoiceRepo{
		BaseRepo: postgres.NewBaseRepo(
			txm,
			invoiceTable,
			postgres.ExtractDBColumns[invoices.Invoice](),
			[]string{"number", "customer_name"},
			func() *invoices.Invoice { return &invoices.Invoice{} },
		),
	}
}

// IsBillPaid reports whether the referenced vendor bill is confirmed paid.
// A missing bill reads as not paid, not as an error.
func (r *InvoiceRepo) IsBillPaid(ctx context.Context, billID id.ID) (bool, error) {
	q := r.Builder().
		Select("payment_state").
		From(invoiceTable).
		Where(squirrel.Eq{"id": billID}).
		Where(squirrel.Eq{"doc_type": invoices.DocVendorBill}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}

	var state invoices.PaymentState
	err = r.Querier(ctx).QueryRow(ctx, sql, args...).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check bill payment: %w", err)
	}

	return state == invoices.PaymentPaid, nil
}
