package orders

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partnerpay/internal/core/apperror"
	appctx "partnerpay/internal/core/context"
	"partnerpay/internal/core/id"
	"partnerpay/internal/core/types"
	"partnerpay/internal/domain"
	"partnerpay/internal/domain/attribution"
	"partnerpay/internal/domain/invoices"
	"partnerpay/internal/domain/partners"
	"partnerpay/pkg/sequence"
)

// --- test doubles ---

type txStub struct{}

func (txStub) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type seqRow struct{ val int64 }

func (r *seqRow) Scan(dest ...any) error {
	if ptr, ok := dest[0].(*int64); ok {
		*ptr = r.val
	}
	return nil
}

type seqQuerier struct{ n int64 }

func (q *seqQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q.n++
	return &seqRow{val: q.n}
}

type memOrderRepo struct {
	orders map[id.ID]SalesOrder
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[id.ID]SalesOrder)}
}

func (r *memOrderRepo) Create(ctx context.Context, o *SalesOrder) error {
	r.orders[o.ID] = *o
	return nil
}

func (r *memOrderRepo) GetByID(ctx context.Context, orderID id.ID) (*SalesOrder, error) {
	if o, ok := r.orders[orderID]; ok {
		cp := o
		return &cp, nil
	}
	return nil, apperror.NewNotFound("sales_order", orderID.String())
}

func (r *memOrderRepo) GetForUpdate(ctx context.Context, orderID id.ID) (*SalesOrder, error) {
	return r.GetByID(ctx, orderID)
}

func (r *memOrderRepo) Update(ctx context.Context, o *SalesOrder) error {
	if _, ok := r.orders[o.ID]; !ok {
		return apperror.NewNotFound("sales_order", o.ID.String())
	}
	r.orders[o.ID] = *o
	return nil
}

func (r *memOrderRepo) List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[*SalesOrder], error) {
	var items []*SalesOrder
	for _, o := range r.orders {
		cp := o
		items = append(items, &cp)
	}
	return domain.ListResult[*SalesOrder]{Items: items, TotalCount: int64(len(items))}, nil
}

type lookupStub struct {
	byCode map[string]*partners.Partner
}

func (s *lookupStub) GetByCode(ctx context.Context, code string) (*partners.Partner, error) {
	if p, ok := s.byCode[code]; ok {
		return p, nil
	}
	return nil, apperror.NewNotFound("partner", code)
}

type invoiceFactoryStub struct {
	created []*invoices.Invoice
}

func (f *invoiceFactoryStub) Create(ctx context.Context, inv *invoices.Invoice, visitorKey string) error {
	f.created = append(f.created, inv)
	return nil
}

func approvedPartner(code string) *partners.Partner {
	p := partners.NewPartner("org-1", "Acme")
	p.Role = partners.RoleAffiliate
	p.ApprovalState = partners.ApprovalApproved
	p.PartnerCode = &code
	return p
}

func newTestService(known map[string]*partners.Partner) (*Service, *memOrderRepo, *invoiceFactoryStub) {
	repo := newMemOrderRepo()
	factory := &invoiceFactoryStub{}
	resolver := attribution.NewResolver(&lookupStub{byCode: known}, nil)
	svc := NewService(repo, resolver, factory, sequence.New(&seqQuerier{}), txStub{}, domain.NopAudit{})
	return svc, repo, factory
}

func managerCtx() context.Context {
	return appctx.WithUser(context.Background(), &appctx.UserContext{
		UserID: "mgr-1",
		Roles:  []string{appctx.RoleSalesManager},
	})
}

func salesCtx() context.Context {
	return appctx.WithUser(context.Background(), &appctx.UserContext{
		UserID: "sales-1",
		Roles:  []string{appctx.RoleSales},
	})
}

// --- tests ---

func TestCreate_ResolvesReferralCode(t *testing.T) {
	ctx := context.Background()
	partner := approvedPartner("PC-00001")
	svc, _, _ := newTestService(map[string]*partners.Partner{"PC-00001": partner})

	t.Run("known code attributes", func(t *testing.T) {
		o := NewSalesOrder("org-1", "Customer A")
		require.NoError(t, svc.Create(ctx, o, "PC-00001"))
		require.NotNil(t, o.AttributedPartnerID)
		assert.Equal(t, partner.ID, *o.AttributedPartnerID)
	})

	t.Run("unknown code leaves attribution empty", func(t *testing.T) {
		o := NewSalesOrder("org-1", "Customer B")
		require.NoError(t, svc.Create(ctx, o, "PC-99999"))
		assert.Nil(t, o.AttributedPartnerID)
	})
}

func TestLockAttribution(t *testing.T) {
	ctx := salesCtx()
	partner := approvedPartner("PC-00001")
	svc, _, _ := newTestService(map[string]*partners.Partner{"PC-00001": partner})

	o := NewSalesOrder("org-1", "Customer A")
	require.NoError(t, svc.Create(ctx, o, "PC-00001"))

	locked, err := svc.LockAttribution(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, locked.AttributionLocked)
	assert.Equal(t, "sales-1", locked.AttributionLockedBy)
	require.NotNil(t, locked.AttributionLockedAt)

	// Idempotent: locking again keeps the original stamps.
	firstLockedAt := *locked.AttributionLockedAt
	again, err := svc.LockAttribution(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, again.AttributionLockedAt.Equal(firstLockedAt))
	assert.Equal(t, "sales-1", again.AttributionLockedBy)
}

func TestLockAttribution_RequiresPartner(t *testing.T) {
	ctx := salesCtx()
	svc, _, _ := newTestService(nil)

	o := NewSalesOrder("org-1", "Customer A")
	require.NoError(t, svc.Create(ctx, o, ""))

	_, err := svc.LockAttribution(ctx, o.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestUnlockAttribution_RoleGate(t *testing.T) {
	partner := approvedPartner("PC-00001")
	svc, _, _ := newTestService(map[string]*partners.Partner{"PC-00001": partner})

	o := NewSalesOrder("org-1", "Customer A")
	require.NoError(t, svc.Create(salesCtx(), o, "PC-00001"))
	_, err := svc.LockAttribution(salesCtx(), o.ID)
	require.NoError(t, err)

	t.Run("sales role is rejected", func(t *testing.T) {
		_, err := svc.UnlockAttribution(salesCtx(), o.ID)
		require.Error(t, err)
		assert.True(t, apperror.IsCode(err, apperror.CodeForbidden))
	})

	t.Run("sales manager unlocks and clears stamps", func(t *testing.T) {
		unlocked, err := svc.UnlockAttribution(managerCtx(), o.ID)
		require.NoError(t, err)
		assert.False(t, unlocked.AttributionLocked)
		assert.Nil(t, unlocked.AttributionLockedAt)
		assert.Empty(t, unlocked.AttributionLockedBy)
	})
}

func TestUpdate_LockedAttributionIsImmutable(t *testing.T) {
	ctx := salesCtx()
	partner := approvedPartner("PC-00001")
	svc, _, _ := newTestService(map[string]*partners.Partner{"PC-00001": partner})

	o := NewSalesOrder("org-1", "Customer A")
	require.NoError(t, svc.Create(ctx, o, "PC-00001"))
	locked, err := svc.LockAttribution(ctx, o.ID)
	require.NoError(t, err)

	other := id.New()
	changed := *locked
	changed.AttributedPartnerID = &other
	err = svc.Update(ctx, &changed)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeAttributionLocked))

	// Lock metadata is just as write-once.
	tampered := *locked
	tampered.AttributionLockedBy = "someone-else"
	err = svc.Update(ctx, &tampered)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeImmutableField))
}

func TestUpdate_AttributionOnlyInDraft(t *testing.T) {
	ctx := salesCtx()
	partner := approvedPartner("PC-00001")
	svc, _, _ := newTestService(map[string]*partners.Partner{"PC-00001": partner})

	o := NewSalesOrder("org-1", "Customer A")
	require.NoError(t, svc.Create(ctx, o, ""))
	confirmed, err := svc.Confirm(ctx, o.ID)
	require.NoError(t, err)

	changed := *confirmed
	changed.AttributedPartnerID = &partner.ID
	err = svc.Update(ctx, &changed)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeAttributionLocked))
}

func TestConvertToInvoice_CopiesAttributionAndForcesLock(t *testing.T) {
	ctx := salesCtx()
	partner := approvedPartner("PC-00001")
	svc, repo, factory := newTestService(map[string]*partners.Partner{"PC-00001": partner})

	o := NewSalesOrder("org-1", "Customer A")
	o.UntaxedAmount = types.MustMoney("1000")
	require.NoError(t, svc.Create(ctx, o, "PC-00001"))
	_, err := svc.Confirm(ctx, o.ID)
	require.NoError(t, err)

	inv, err := svc.ConvertToInvoice(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, factory.created, 1)

	assert.Equal(t, invoices.DocCustomerInvoice, inv.DocType)
	require.NotNil(t, inv.AttributedPartnerID)
	assert.Equal(t, partner.ID, *inv.AttributedPartnerID)
	assert.True(t, inv.AttributionLocked, "conversion forces the lock on")
	assert.True(t, inv.UntaxedAmount.Equal(types.MustMoney("1000")))

	stored, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StageDone, stored.Stage)
	require.NotNil(t, stored.InvoiceID)
	assert.Equal(t, inv.ID, *stored.InvoiceID)

	// Double conversion is rejected.
	_, err = svc.ConvertToInvoice(ctx, o.ID)
	require.Error(t, err)
}

func TestConvertToInvoice_PreservesExistingLockStamps(t *testing.T) {
	ctx := salesCtx()
	partner := approvedPartner("PC-00001")
	svc, _, _ := newTestService(map[string]*partners.Partner{"PC-00001": partner})

	o := NewSalesOrder("org-1", "Customer A")
	require.NoError(t, svc.Create(ctx, o, "PC-00001"))
	locked, err := svc.LockAttribution(ctx, o.ID)
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, o.ID)
	require.NoError(t, err)

	inv, err := svc.ConvertToInvoice(ctx, o.ID)
	require.NoError(t, err)

	// Copied verbatim, not re-stamped.
	assert.Equal(t, locked.AttributionLockedBy, inv.AttributionLockedBy)
	require.NotNil(t, inv.AttributionLockedAt)
	assert.True(t, inv.AttributionLockedAt.Equal(*locked.AttributionLockedAt))
}

func TestConvertToInvoice_RequiresConfirmed(t *testing.T) {
	ctx := salesCtx()
	svc, _, _ := newTestService(nil)

	o := NewSalesOrder("org-1", "Customer A")
	require.NoError(t, svc.Create(ctx, o, ""))

	_, err := svc.ConvertToInvoice(ctx, o.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeBusinessRule))
}
