package invoices

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partnerpay/internal/core/apperror"
	appctx "partnerpay/internal/core/context"
	"partnerpay/internal/core/id"
	"partnerpay/internal/core/types"
	"partnerpay/internal/domain"
	"partnerpay/internal/domain/partners"
	"partnerpay/pkg/sequence"
)

// --- test doubles ---

type txStub struct{}

func (txStub) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memInvoiceRepo struct {
	docs map[id.ID]*Invoice
}

func newMemInvoiceRepo() *memInvoiceRepo {
	return &memInvoiceRepo{docs: make(map[id.ID]*Invoice)}
}

func (r *memInvoiceRepo) Create(ctx context.Context, inv *Invoice) error {
	cp := *inv
	r.docs[inv.ID] = &cp
	return nil
}

func (r *memInvoiceRepo) GetByID(ctx context.Context, invoiceID id.ID) (*Invoice, error) {
	if d, ok := r.docs[invoiceID]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, apperror.NewNotFound("invoice", invoiceID.String())
}

func (r *memInvoiceRepo) GetForUpdate(ctx context.Context, invoiceID id.ID) (*Invoice, error) {
	return r.GetByID(ctx, invoiceID)
}

func (r *memInvoiceRepo) Update(ctx context.Context, inv *Invoice) error {
	if _, ok := r.docs[inv.ID]; !ok {
		return apperror.NewNotFound("invoice", inv.ID.String())
	}
	cp := *inv
	r.docs[inv.ID] = &cp
	return nil
}

func (r *memInvoiceRepo) List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[*Invoice], error) {
	var items []*Invoice
	for _, d := range r.docs {
		cp := *d
		items = append(items, &cp)
	}
	return domain.ListResult[*Invoice]{Items: items, TotalCount: int64(len(items))}, nil
}

func (r *memInvoiceRepo) IsBillPaid(ctx context.Context, billID id.ID) (bool, error) {
	d, ok := r.docs[billID]
	if !ok {
		return false, nil
	}
	return d.DocType == DocVendorBill && d.IsPaid(), nil
}

type partnerDirStub struct {
	byID map[id.ID]*partners.Partner
}

func (s *partnerDirStub) GetByID(ctx context.Context, partnerID id.ID) (*partners.Partner, error) {
	if p, ok := s.byID[partnerID]; ok {
		return p, nil
	}
	return nil, apperror.NewNotFound("partner", partnerID.String())
}

type ledgerStub struct {
	entries    map[id.ID]bool // keyed by invoice id
	linked     map[id.ID]id.ID
	recomputes int
}

func newLedgerStub() *ledgerStub {
	return &ledgerStub{entries: make(map[id.ID]bool), linked: make(map[id.ID]id.ID)}
}

func (s *ledgerStub) CreateEntryIfNeeded(ctx context.Context, inv *Invoice) (bool, error) {
	if s.entries[inv.ID] {
		return false, nil
	}
	s.entries[inv.ID] = true
	return true, nil
}

func (s *ledgerStub) LinkVendorBill(ctx context.Context, invoiceID, billID id.ID) error {
	s.linked[invoiceID] = billID
	return nil
}

func (s *ledgerStub) RecomputeForInvoice(ctx context.Context, invoiceID id.ID) error {
	s.recomputes++
	return nil
}

type seqRow struct {
	val int64
}

func (m *seqRow) Scan(dest ...any) error {
	if len(dest) > 0 {
		if ptr, ok := dest[0].(*int64); ok {
			*ptr = m.val
		}
	}
	return nil
}

type seqQuerier struct {
	current int64
}

func (m *seqQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	m.current++
	return &seqRow{val: m.current}
}

type fixture struct {
	repo    *memInvoiceRepo
	dir     *partnerDirStub
	ledger  *ledgerStub
	svc     *Service
	partner *partners.Partner
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	p := partners.NewPartner("org-1", "Acme Partners")
	p.CommissionRatePercent = types.NewRate(10)

	repo := newMemInvoiceRepo()
	dir := &partnerDirStub{byID: map[id.ID]*partners.Partner{p.ID: p}}
	hook := newLedgerStub()
	seq := sequence.New(&seqQuerier{})

	return &fixture{
		repo:    repo,
		dir:     dir,
		ledger:  hook,
		svc:     NewService(repo, nil, dir, hook, seq, txStub{}, nil, cfg),
		partner: p,
	}
}

func (f *fixture) postedInvoice(t *testing.T, docType DocType, untaxed string) *Invoice {
	t.Helper()

	inv := NewInvoice("org-1", docType)
	inv.CustomerName = "Customer"
	inv.UntaxedAmount = types.MustMoney(untaxed)
	inv.AttributedPartnerID = &f.partner.ID
	inv.PostingState = PostingPosted
	if docType == DocCustomerRefund {
		origin := id.New()
		inv.ReversedInvoiceID = &origin
	}
	require.NoError(t, f.repo.Create(context.Background(), inv))
	return inv
}

// --- tests ---

func TestCreate_AssignsNumber(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	inv := NewInvoice("org-1", DocCustomerInvoice)
	inv.CustomerName = "Customer"
	inv.UntaxedAmount = types.MustMoney("100")

	require.NoError(t, f.svc.Create(ctx, inv, ""))
	assert.True(t, strings.HasPrefix(inv.Number, "INV-"), "got %s", inv.Number)
}

func TestMarkPaid_SnapshotsCommission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	inv := f.postedInvoice(t, DocCustomerInvoice, "200")

	paid, err := f.svc.MarkPaid(ctx, inv.ID)
	require.NoError(t, err)

	assert.Equal(t, PaymentPaid, paid.PaymentState)
	require.NotNil(t, paid.PaidAt)
	require.NotNil(t, paid.CommissionRateUsed)
	require.NotNil(t, paid.CommissionAmount)
	assert.True(t, paid.CommissionRateUsed.Equal(types.NewRate(10)))
	assert.True(t, paid.CommissionAmount.Equal(types.MustMoney("20")))
	assert.True(t, f.ledger.entries[inv.ID])
	assert.Equal(t, 1, f.ledger.recomputes)
}

func TestMarkPaid_SnapshotIsFrozen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	inv := f.postedInvoice(t, DocCustomerInvoice, "200")

	_, err := f.svc.MarkPaid(ctx, inv.ID)
	require.NoError(t, err)

	// Rate change after settlement never retroactively applies.
	f.partner.CommissionRatePercent = types.NewRate(50)

	paid, err := f.svc.MarkPaid(ctx, inv.ID)
	require.NoError(t, err)

	assert.True(t, paid.CommissionRateUsed.Equal(types.NewRate(10)))
	assert.True(t, paid.CommissionAmount.Equal(types.MustMoney("20")))
	assert.Len(t, f.ledger.entries, 1)
}

func TestMarkPaid_RefundIsNegative(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	inv := f.postedInvoice(t, DocCustomerRefund, "200")

	paid, err := f.svc.MarkPaid(ctx, inv.ID)
	require.NoError(t, err)

	require.NotNil(t, paid.CommissionAmount)
	assert.True(t, paid.CommissionAmount.Equal(types.MustMoney("-20")))
}

func TestProcessIfPaid_Preconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	t.Run("not posted", func(t *testing.T) {
		inv := f.postedInvoice(t, DocCustomerInvoice, "200")
		inv.PostingState = PostingDraft
		inv.PaymentState = PaymentPaid
		require.NoError(t, f.svc.ProcessIfPaid(ctx, inv))
		assert.False(t, f.ledger.entries[inv.ID])
	})

	t.Run("no attributed partner", func(t *testing.T) {
		inv := f.postedInvoice(t, DocCustomerInvoice, "200")
		inv.AttributedPartnerID = nil
		inv.PaymentState = PaymentPaid
		require.NoError(t, f.svc.ProcessIfPaid(ctx, inv))
		assert.False(t, f.ledger.entries[inv.ID])
	})

	t.Run("vendor bill", func(t *testing.T) {
		inv := f.postedInvoice(t, DocVendorBill, "200")
		inv.PaymentState = PaymentPaid
		require.NoError(t, f.svc.ProcessIfPaid(ctx, inv))
		assert.False(t, f.ledger.entries[inv.ID])
		assert.Nil(t, inv.CommissionRateUsed)
	})
}

func TestProcessIfPaid_ReentrancyGuard(t *testing.T) {
	ctx := appctx.WithPaidProcessing(context.Background())
	f := newFixture(t, Config{})

	inv := f.postedInvoice(t, DocCustomerInvoice, "200")
	inv.PaymentState = PaymentPaid

	require.NoError(t, f.svc.ProcessIfPaid(ctx, inv))
	assert.False(t, f.ledger.entries[inv.ID])
	assert.Nil(t, inv.CommissionRateUsed)
}

func TestMarkPaid_AutoBill(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{AutoBillPerInvoice: true})
	inv := f.postedInvoice(t, DocCustomerInvoice, "200")

	paid, err := f.svc.MarkPaid(ctx, inv.ID)
	require.NoError(t, err)

	require.NotNil(t, paid.VendorBillID)
	bill, err := f.repo.GetByID(ctx, *paid.VendorBillID)
	require.NoError(t, err)
	assert.Equal(t, DocVendorBill, bill.DocType)
	assert.True(t, strings.HasPrefix(bill.Number, "BILL-"), "got %s", bill.Number)
	assert.True(t, bill.UntaxedAmount.Equal(types.MustMoney("20")))
	require.NotNil(t, bill.AttributedPartnerID)
	assert.Equal(t, f.partner.ID, *bill.AttributedPartnerID)
	assert.Equal(t, *paid.VendorBillID, f.ledger.linked[inv.ID])
}

func TestMarkPaid_AutoBillSkipsRefunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{AutoBillPerInvoice: true})
	inv := f.postedInvoice(t, DocCustomerRefund, "200")

	paid, err := f.svc.MarkPaid(ctx, inv.ID)
	require.NoError(t, err)

	assert.Nil(t, paid.VendorBillID)
	assert.Empty(t, f.ledger.linked)
}

func TestUpdate_AttributionImmutability(t *testing.T) {
	ctx := context.Background()

	t.Run("locked attribution rejects partner change", func(t *testing.T) {
		f := newFixture(t, Config{})
		inv := f.postedInvoice(t, DocCustomerInvoice, "200")
		inv.LockAttribution("tester")
		require.NoError(t, f.repo.Update(ctx, inv))

		changed := *inv
		other := id.New()
		changed.AttributedPartnerID = &other

		err := f.svc.Update(ctx, &changed)
		require.Error(t, err)
		assert.True(t, apperror.IsCode(err, apperror.CodeAttributionLocked))
	})

	t.Run("posted document rejects partner change even unlocked", func(t *testing.T) {
		f := newFixture(t, Config{})
		inv := f.postedInvoice(t, DocCustomerInvoice, "200")

		changed := *inv
		changed.AttributedPartnerID = nil

		err := f.svc.Update(ctx, &changed)
		require.Error(t, err)
		assert.True(t, apperror.IsCode(err, apperror.CodeAttributionLocked))
	})

	t.Run("lock metadata is write-once", func(t *testing.T) {
		f := newFixture(t, Config{})
		inv := f.postedInvoice(t, DocCustomerInvoice, "200")
		inv.LockAttribution("tester")
		require.NoError(t, f.repo.Update(ctx, inv))

		changed := *inv
		changed.AttributionLockedBy = "someone-else"

		err := f.svc.Update(ctx, &changed)
		require.Error(t, err)
		assert.True(t, apperror.IsCode(err, apperror.CodeImmutableField))
	})

	t.Run("pipeline fields cannot be written by callers", func(t *testing.T) {
		f := newFixture(t, Config{})
		inv := NewInvoice("org-1", DocCustomerInvoice)
		inv.CustomerName = "Customer"
		inv.UntaxedAmount = types.MustMoney("100")
		require.NoError(t, f.repo.Create(ctx, inv))

		changed := *inv
		changed.PaymentState = PaymentPaid
		rate := types.NewRate(99)
		changed.CommissionRateUsed = &rate

		require.NoError(t, f.svc.Update(ctx, &changed))

		stored, err := f.repo.GetByID(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, PaymentNotPaid, stored.PaymentState)
		assert.Nil(t, stored.CommissionRateUsed)
	})
}

func TestMarkBillPaid_RejectsNonBill(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	inv := f.postedInvoice(t, DocCustomerInvoice, "200")

	_, err := f.svc.MarkBillPaid(ctx, inv.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestMarkBillPaid_BillDoesNotFeedLedger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	bill := f.postedInvoice(t, DocVendorBill, "20")

	paid, err := f.svc.MarkBillPaid(ctx, bill.ID)
	require.NoError(t, err)

	assert.Equal(t, PaymentPaid, paid.PaymentState)
	assert.False(t, f.ledger.entries[bill.ID])

	isPaid, err := f.repo.IsBillPaid(ctx, bill.ID)
	require.NoError(t, err)
	assert.True(t, isPaid)
}
