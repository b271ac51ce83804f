package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partnerpay/internal/core/apperror"
	"partnerpay/internal/core/entity"
	"partnerpay/internal/core/id"
	"partnerpay/internal/core/types"
	"partnerpay/internal/domain"
	"partnerpay/internal/domain/invoices"
	"partnerpay/internal/domain/partners"
)

// --- test doubles ---

type txStub struct{}

func (txStub) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memLedgerRepo struct {
	entries map[id.ID]*Entry
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{entries: make(map[id.ID]*Entry)}
}

func (r *memLedgerRepo) Insert(ctx context.Context, e *Entry) (bool, error) {
	for _, existing := range r.entries {
		if existing.InvoiceID == e.InvoiceID {
			return false, nil // conflict, do nothing
		}
	}
	cp := *e
	r.entries[e.ID] = &cp
	return true, nil
}

func (r *memLedgerRepo) GetByID(ctx context.Context, entryID id.ID) (*Entry, error) {
	if e, ok := r.entries[entryID]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, apperror.NewNotFound("ledger_entry", entryID.String())
}

func (r *memLedgerRepo) GetByInvoiceID(ctx context.Context, invoiceID id.ID) (*Entry, error) {
	for _, e := range r.entries {
		if e.InvoiceID == invoiceID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, apperror.NewNotFound("ledger_entry", invoiceID.String())
}

func (r *memLedgerRepo) List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[*Entry], error) {
	var items []*Entry
	for _, e := range r.entries {
		cp := *e
		items = append(items, &cp)
	}
	return domain.ListResult[*Entry]{Items: items, TotalCount: int64(len(items))}, nil
}

func (r *memLedgerRepo) UpdateState(ctx context.Context, entryID id.ID, state State) error {
	e, ok := r.entries[entryID]
	if !ok {
		return apperror.NewNotFound("ledger_entry", entryID.String())
	}
	e.State = state
	return nil
}

func (r *memLedgerRepo) SetVendorBill(ctx context.Context, entryIDs []id.ID, billID id.ID) error {
	for _, eid := range entryIDs {
		if e, ok := r.entries[eid]; ok {
			b := billID
			e.VendorBillID = &b
		}
	}
	return nil
}

func (r *memLedgerRepo) ClaimForBatch(ctx context.Context, batchID id.ID, entryIDs []id.ID) (int64, error) {
	var n int64
	for _, eid := range entryIDs {
		if e, ok := r.entries[eid]; ok && e.PayoutBatchID == nil {
			b := batchID
			e.PayoutBatchID = &b
			n++
		}
	}
	return n, nil
}

func (r *memLedgerRepo) ReleaseBatch(ctx context.Context, batchID id.ID) error {
	for _, e := range r.entries {
		if e.PayoutBatchID != nil && *e.PayoutBatchID == batchID && e.VendorBillID == nil {
			e.PayoutBatchID = nil
		}
	}
	return nil
}

func (r *memLedgerRepo) ListByBatch(ctx context.Context, batchID id.ID) ([]*Entry, error) {
	var out []*Entry
	for _, e := range r.entries {
		if e.PayoutBatchID != nil && *e.PayoutBatchID == batchID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memLedgerRepo) ListUnclaimedCandidates(ctx context.Context, organizationID string) ([]*Entry, error) {
	var out []*Entry
	for _, e := range r.entries {
		if e.EntryType == TypeInvoice && e.VendorBillID == nil && e.PayoutBatchID == nil &&
			e.OrganizationID == organizationID &&
			(e.State == StateOnHold || e.State == StatePayable) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memLedgerRepo) CountAlreadyBilled(ctx context.Context, organizationID string) (int64, error) {
	var n int64
	for _, e := range r.entries {
		if e.EntryType == TypeInvoice && e.OrganizationID == organizationID && e.VendorBillID != nil {
			n++
		}
	}
	return n, nil
}

func (r *memLedgerRepo) ListUnclaimedChunk(ctx context.Context, afterID id.ID, limit int) ([]*Entry, error) {
	var out []*Entry
	for _, e := range r.entries {
		if e.EntryType == TypeInvoice && e.VendorBillID == nil && e.PayoutBatchID == nil &&
			e.ID.String() > afterID.String() {
			cp := *e
			out = append(out, &cp)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

type complianceStub struct {
	profiles map[id.ID]*partners.ComplianceProfile
}

func (s *complianceStub) ComplianceProfileFor(ctx context.Context, partnerID id.ID) (*partners.ComplianceProfile, error) {
	if p, ok := s.profiles[partnerID]; ok {
		return p, nil
	}
	return &partners.ComplianceProfile{Available: false}, nil
}

type billStub struct {
	paid map[id.ID]bool
}

func (s *billStub) IsBillPaid(ctx context.Context, billID id.ID) (bool, error) {
	return s.paid[billID], nil
}

type policyStub struct {
	hold bool
	err  error
}

func (s *policyStub) Evaluate(ctx context.Context, vars map[string]any) (bool, error) {
	return s.hold, s.err
}

func eligibleProfile() *partners.ComplianceProfile {
	return &partners.ComplianceProfile{
		Available:    true,
		Eligible:     true,
		KYCStatus:    partners.KYCVerified,
		BankVerified: true,
	}
}

func paidInvoice(partnerID id.ID, rate, amount string) *invoices.Invoice {
	inv := invoices.NewInvoice("org-1", invoices.DocCustomerInvoice)
	inv.PostingState = invoices.PostingPosted
	inv.PaymentState = invoices.PaymentPaid
	now := time.Now().UTC()
	inv.PaidAt = &now
	inv.AttributedPartnerID = &partnerID
	r := types.MustMoney(rate)
	a := types.MustMoney(amount)
	inv.CommissionRateUsed = &r
	inv.CommissionAmount = &a
	return inv
}

func newTestService(repo *memLedgerRepo, compliance *complianceStub, bills *billStub, policy HoldPolicy) *Service {
	if compliance == nil {
		compliance = &complianceStub{profiles: map[id.ID]*partners.ComplianceProfile{}}
	}
	if bills == nil {
		bills = &billStub{paid: map[id.ID]bool{}}
	}
	return NewService(repo, compliance, bills, policy, txStub{})
}

// --- tests ---

func TestCreateEntryIfNeeded_Preconditions(t *testing.T) {
	ctx := context.Background()
	repo := newMemLedgerRepo()
	svc := newTestService(repo, nil, nil, nil)
	partnerID := id.New()

	t.Run("no attributed partner", func(t *testing.T) {
		inv := paidInvoice(partnerID, "5", "50")
		inv.AttributedPartnerID = nil
		created, err := svc.CreateEntryIfNeeded(ctx, inv)
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("not posted", func(t *testing.T) {
		inv := paidInvoice(partnerID, "5", "50")
		inv.PostingState = invoices.PostingDraft
		created, err := svc.CreateEntryIfNeeded(ctx, inv)
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("not paid", func(t *testing.T) {
		inv := paidInvoice(partnerID, "5", "50")
		inv.PaymentState = invoices.PaymentNotPaid
		created, err := svc.CreateEntryIfNeeded(ctx, inv)
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("vendor bill never gets an entry", func(t *testing.T) {
		inv := paidInvoice(partnerID, "5", "50")
		inv.DocType = invoices.DocVendorBill
		created, err := svc.CreateEntryIfNeeded(ctx, inv)
		require.NoError(t, err)
		assert.False(t, created)
	})

	assert.Empty(t, repo.entries)
}

func TestCreateEntryIfNeeded_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo := newMemLedgerRepo()
	svc := newTestService(repo, nil, nil, nil)

	inv := paidInvoice(id.New(), "5", "50")

	created, err := svc.CreateEntryIfNeeded(ctx, inv)
	require.NoError(t, err)
	assert.True(t, created)

	// Trigger fires again for the same invoice.
	created, err = svc.CreateEntryIfNeeded(ctx, inv)
	require.NoError(t, err)
	assert.False(t, created)

	assert.Len(t, repo.entries, 1)
}

func TestCreateEntryIfNeeded_ZeroRateStillCreates(t *testing.T) {
	ctx := context.Background()
	repo := newMemLedgerRepo()
	svc := newTestService(repo, nil, nil, nil)

	inv := paidInvoice(id.New(), "0", "0")
	created, err := svc.CreateEntryIfNeeded(ctx, inv)
	require.NoError(t, err)
	assert.True(t, created)

	e, err := svc.repo.GetByInvoiceID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, StateOnHold, e.State)
	assert.True(t, e.CommissionAmountSigned.IsZero())
}

func TestCreateEntryIfNeeded_RefundStartsReversed(t *testing.T) {
	ctx := context.Background()
	repo := newMemLedgerRepo()
	svc := newTestService(repo, nil, nil, nil)

	origin := id.New()
	inv := paidInvoice(id.New(), "5", "-50")
	inv.DocType = invoices.DocCustomerRefund
	inv.ReversedInvoiceID = &origin

	created, err := svc.CreateEntryIfNeeded(ctx, inv)
	require.NoError(t, err)
	assert.True(t, created)

	e, err := svc.repo.GetByInvoiceID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, TypeRefund, e.EntryType)
	assert.Equal(t, StateReversed, e.State)
	require.NotNil(t, e.OriginInvoiceID)
	assert.Equal(t, origin, *e.OriginInvoiceID)
}

func insertEntry(t *testing.T, repo *memLedgerRepo, e *Entry) *Entry {
	t.Helper()
	e.BaseDocument = entity.NewBaseDocument()
	inserted, err := repo.Insert(context.Background(), e)
	require.NoError(t, err)
	require.True(t, inserted)
	return e
}

func TestRecompute_Rules(t *testing.T) {
	ctx := context.Background()
	partnerEligible := id.New()
	partnerIneligible := id.New()
	paidBill := id.New()
	unpaidBill := id.New()

	compliance := &complianceStub{profiles: map[id.ID]*partners.ComplianceProfile{
		partnerEligible:   eligibleProfile(),
		partnerIneligible: {Available: true, Eligible: false, KYCStatus: partners.KYCPending},
	}}
	bills := &billStub{paid: map[id.ID]bool{paidBill: true, unpaidBill: false}}

	tests := []struct {
		name  string
		entry Entry
		want  State
	}{
		{
			name: "refund is reversed regardless of eligibility",
			entry: Entry{
				OrganizationID: "org-1", PartnerID: partnerEligible, InvoiceID: id.New(),
				EntryType: TypeRefund, CommissionAmountSigned: types.MustMoney("50"),
				State: StatePayable,
			},
			want: StateReversed,
		},
		{
			name: "non-positive amount holds",
			entry: Entry{
				OrganizationID: "org-1", PartnerID: partnerEligible, InvoiceID: id.New(),
				EntryType: TypeInvoice, CommissionAmountSigned: types.Zero(),
				State: StatePayable,
			},
			want: StateOnHold,
		},
		{
			name: "paid bill is terminal paid",
			entry: Entry{
				OrganizationID: "org-1", PartnerID: partnerIneligible, InvoiceID: id.New(),
				EntryType: TypeInvoice, CommissionAmountSigned: types.MustMoney("50"),
				VendorBillID: &paidBill, State: StatePayable,
			},
			want: StatePaid,
		},
		{
			name: "unpaid bill falls through to eligibility",
			entry: Entry{
				OrganizationID: "org-1", PartnerID: partnerEligible, InvoiceID: id.New(),
				EntryType: TypeInvoice, CommissionAmountSigned: types.MustMoney("50"),
				VendorBillID: &unpaidBill, State: StateOnHold,
			},
			want: StatePayable,
		},
		{
			name: "ineligible partner holds",
			entry: Entry{
				OrganizationID: "org-1", PartnerID: partnerIneligible, InvoiceID: id.New(),
				EntryType: TypeInvoice, CommissionAmountSigned: types.MustMoney("50"),
				State: StatePayable,
			},
			want: StateOnHold,
		},
		{
			name: "unknown partner holds",
			entry: Entry{
				OrganizationID: "org-1", PartnerID: id.New(), InvoiceID: id.New(),
				EntryType: TypeInvoice, CommissionAmountSigned: types.MustMoney("50"),
				State: StatePayable,
			},
			want: StateOnHold,
		},
		{
			name: "eligible positive entry is payable",
			entry: Entry{
				OrganizationID: "org-1", PartnerID: partnerEligible, InvoiceID: id.New(),
				EntryType: TypeInvoice, CommissionAmountSigned: types.MustMoney("50"),
				State: StateOnHold,
			},
			want: StatePayable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemLedgerRepo()
			svc := newTestService(repo, compliance, bills, nil)
			e := insertEntry(t, repo, &tt.entry)

			require.NoError(t, svc.RecomputePayoutState(ctx, []*Entry{e}))
			assert.Equal(t, tt.want, e.State)

			// Idempotence: recomputing again changes nothing.
			require.NoError(t, svc.RecomputePayoutState(ctx, []*Entry{e}))
			assert.Equal(t, tt.want, e.State)
		})
	}
}

func TestRecompute_HoldPolicy(t *testing.T) {
	ctx := context.Background()
	partnerID := id.New()
	compliance := &complianceStub{profiles: map[id.ID]*partners.ComplianceProfile{
		partnerID: eligibleProfile(),
	}}

	newEntry := func() *Entry {
		return &Entry{
			OrganizationID: "org-1", PartnerID: partnerID, InvoiceID: id.New(),
			EntryType: TypeInvoice, CommissionAmountSigned: types.MustMoney("50"),
			State: StateOnHold,
		}
	}

	t.Run("policy forces hold", func(t *testing.T) {
		repo := newMemLedgerRepo()
		svc := newTestService(repo, compliance, nil, &policyStub{hold: true})
		e := insertEntry(t, repo, newEntry())

		require.NoError(t, svc.RecomputePayoutState(ctx, []*Entry{e}))
		assert.Equal(t, StateOnHold, e.State)
	})

	t.Run("policy error is skipped", func(t *testing.T) {
		repo := newMemLedgerRepo()
		svc := newTestService(repo, compliance, nil, &policyStub{err: errors.New("boom")})
		e := insertEntry(t, repo, newEntry())

		require.NoError(t, svc.RecomputePayoutState(ctx, []*Entry{e}))
		assert.Equal(t, StatePayable, e.State)
	})

	t.Run("policy never applies to refunds", func(t *testing.T) {
		repo := newMemLedgerRepo()
		svc := newTestService(repo, compliance, nil, &policyStub{hold: false})
		e := newEntry()
		e.EntryType = TypeRefund
		e = insertEntry(t, repo, e)

		require.NoError(t, svc.RecomputePayoutState(ctx, []*Entry{e}))
		assert.Equal(t, StateReversed, e.State)
	})
}

func TestAppendOnly(t *testing.T) {
	ctx := context.Background()
	repo := newMemLedgerRepo()
	svc := newTestService(repo, nil, nil, nil)

	e := insertEntry(t, repo, &Entry{
		OrganizationID: "org-1", PartnerID: id.New(), InvoiceID: id.New(),
		EntryType: TypeInvoice, CommissionAmountSigned: types.MustMoney("50"),
		State: StateOnHold,
	})

	t.Run("delete always fails", func(t *testing.T) {
		err := svc.Delete(ctx, e.ID)
		require.Error(t, err)
		assert.True(t, apperror.IsCode(err, apperror.CodeLedgerAppendOnly))
	})

	t.Run("core field mutation fails", func(t *testing.T) {
		changed := *e
		changed.CommissionAmountSigned = types.MustMoney("9999")
		err := svc.Update(ctx, &changed)
		require.Error(t, err)
		assert.True(t, apperror.IsCode(err, apperror.CodeLedgerAppendOnly))
	})

	t.Run("any direct write fails", func(t *testing.T) {
		same := *e
		err := svc.Update(ctx, &same)
		require.Error(t, err)
		assert.True(t, apperror.IsCode(err, apperror.CodeLedgerAppendOnly))
	})
}
