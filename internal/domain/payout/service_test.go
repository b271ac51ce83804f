package payout

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partnerpay/internal/core/apperror"
	"partnerpay/internal/core/entity"
	"partnerpay/internal/core/id"
	"partnerpay/internal/core/types"
	"partnerpay/internal/domain"
	"partnerpay/internal/domain/invoices"
	"partnerpay/internal/domain/ledger"
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

type memBatchRepo struct {
	batches map[id.ID]Batch
}

func newMemBatchRepo() *memBatchRepo {
	return &memBatchRepo{batches: make(map[id.ID]Batch)}
}

func (r *memBatchRepo) Create(ctx context.Context, b *Batch) error {
	r.batches[b.ID] = *b
	return nil
}

func (r *memBatchRepo) GetByID(ctx context.Context, batchID id.ID) (*Batch, error) {
	if b, ok := r.batches[batchID]; ok {
		cp := b
		return &cp, nil
	}
	return nil, apperror.NewNotFound("payout_batch", batchID.String())
}

func (r *memBatchRepo) GetForUpdate(ctx context.Context, batchID id.ID) (*Batch, error) {
	return r.GetByID(ctx, batchID)
}

func (r *memBatchRepo) Update(ctx context.Context, b *Batch) error {
	if _, ok := r.batches[b.ID]; !ok {
		return apperror.NewNotFound("payout_batch", b.ID.String())
	}
	r.batches[b.ID] = *b
	return nil
}

func (r *memBatchRepo) List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[*Batch], error) {
	var items []*Batch
	for _, b := range r.batches {
		cp := b
		items = append(items, &cp)
	}
	return domain.ListResult[*Batch]{Items: items, TotalCount: int64(len(items))}, nil
}

func (r *memBatchRepo) ListOpenChunk(ctx context.Context, afterID id.ID, limit int) ([]*Batch, error) {
	var items []*Batch
	for _, b := range r.batches {
		if b.State != StateGenerated {
			continue
		}
		if bytes.Compare(b.ID[:], afterID[:]) <= 0 {
			continue
		}
		cp := b
		items = append(items, &cp)
	}
	sort.Slice(items, func(i, j int) bool {
		return bytes.Compare(items[i].ID[:], items[j].ID[:]) < 0
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

type memEntryRepo struct {
	entries map[id.ID]ledger.Entry
}

func newMemEntryRepo() *memEntryRepo {
	return &memEntryRepo{entries: make(map[id.ID]ledger.Entry)}
}

func (r *memEntryRepo) Insert(ctx context.Context, e *ledger.Entry) (bool, error) {
	for _, ex := range r.entries {
		if ex.InvoiceID == e.InvoiceID {
			return false, nil
		}
	}
	r.entries[e.ID] = *e
	return true, nil
}

func (r *memEntryRepo) GetByID(ctx context.Context, entryID id.ID) (*ledger.Entry, error) {
	if e, ok := r.entries[entryID]; ok {
		cp := e
		return &cp, nil
	}
	return nil, apperror.NewNotFound("ledger_entry", entryID.String())
}

func (r *memEntryRepo) GetByInvoiceID(ctx context.Context, invoiceID id.ID) (*ledger.Entry, error) {
	for _, e := range r.entries {
		if e.InvoiceID == invoiceID {
			cp := e
			return &cp, nil
		}
	}
	return nil, apperror.NewNotFound("ledger_entry", invoiceID.String())
}

func (r *memEntryRepo) List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[*ledger.Entry], error) {
	var items []*ledger.Entry
	for _, e := range r.entries {
		cp := e
		items = append(items, &cp)
	}
	return domain.ListResult[*ledger.Entry]{Items: items, TotalCount: int64(len(items))}, nil
}

func (r *memEntryRepo) UpdateState(ctx context.Context, entryID id.ID, state ledger.State) error {
	e, ok := r.entries[entryID]
	if !ok {
		return apperror.NewNotFound("ledger_entry", entryID.String())
	}
	e.State = state
	r.entries[entryID] = e
	return nil
}

func (r *memEntryRepo) SetVendorBill(ctx context.Context, entryIDs []id.ID, billID id.ID) error {
	for _, eid := range entryIDs {
		e, ok := r.entries[eid]
		if !ok {
			return apperror.NewNotFound("ledger_entry", eid.String())
		}
		b := billID
		e.VendorBillID = &b
		r.entries[eid] = e
	}
	return nil
}

func (r *memEntryRepo) ClaimForBatch(ctx context.Context, batchID id.ID, entryIDs []id.ID) (int64, error) {
	var n int64
	for _, eid := range entryIDs {
		e, ok := r.entries[eid]
		if !ok || e.PayoutBatchID != nil {
			continue
		}
		b := batchID
		e.PayoutBatchID = &b
		r.entries[eid] = e
		n++
	}
	return n, nil
}

func (r *memEntryRepo) ReleaseBatch(ctx context.Context, batchID id.ID) error {
	for eid, e := range r.entries {
		if e.PayoutBatchID != nil && *e.PayoutBatchID == batchID && e.VendorBillID == nil {
			e.PayoutBatchID = nil
			r.entries[eid] = e
		}
	}
	return nil
}

func (r *memEntryRepo) ListByBatch(ctx context.Context, batchID id.ID) ([]*ledger.Entry, error) {
	var items []*ledger.Entry
	for _, e := range r.entries {
		if e.PayoutBatchID != nil && *e.PayoutBatchID == batchID {
			cp := e
			items = append(items, &cp)
		}
	}
	sortEntries(items)
	return items, nil
}

func (r *memEntryRepo) ListUnclaimedCandidates(ctx context.Context, organizationID string) ([]*ledger.Entry, error) {
	var items []*ledger.Entry
	for _, e := range r.entries {
		if e.OrganizationID != organizationID ||
			e.EntryType != ledger.TypeInvoice ||
			e.VendorBillID != nil ||
			e.PayoutBatchID != nil {
			continue
		}
		if e.State != ledger.StateOnHold && e.State != ledger.StatePayable {
			continue
		}
		cp := e
		items = append(items, &cp)
	}
	sortEntries(items)
	return items, nil
}

func (r *memEntryRepo) CountAlreadyBilled(ctx context.Context, organizationID string) (int64, error) {
	var n int64
	for _, e := range r.entries {
		if e.OrganizationID == organizationID && e.EntryType == ledger.TypeInvoice && e.VendorBillID != nil {
			n++
		}
	}
	return n, nil
}

func (r *memEntryRepo) ListUnclaimedChunk(ctx context.Context, afterID id.ID, limit int) ([]*ledger.Entry, error) {
	var items []*ledger.Entry
	for _, e := range r.entries {
		if e.EntryType != ledger.TypeInvoice || e.VendorBillID != nil || e.PayoutBatchID != nil {
			continue
		}
		if bytes.Compare(e.ID[:], afterID[:]) <= 0 {
			continue
		}
		cp := e
		items = append(items, &cp)
	}
	sortEntries(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func sortEntries(items []*ledger.Entry) {
	sort.Slice(items, func(i, j int) bool {
		return bytes.Compare(items[i].ID[:], items[j].ID[:]) < 0
	})
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

// billStub stands in for the invoice service on the bill side: it creates
// vendor bill documents and answers payment checks.
type billStub struct {
	bills []*invoices.Invoice
	paid  map[id.ID]bool
}

func newBillStub() *billStub {
	return &billStub{paid: make(map[id.ID]bool)}
}

func (s *billStub) CreateVendorBill(ctx context.Context, organizationID string, partnerID id.ID, amount types.Money, comment string) (*invoices.Invoice, error) {
	bill := invoices.NewInvoice(organizationID, invoices.DocVendorBill)
	bill.AttributedPartnerID = &partnerID
	bill.UntaxedAmount = amount
	bill.Comment = comment
	s.bills = append(s.bills, bill)
	return bill, nil
}

func (s *billStub) GetByID(ctx context.Context, invoiceID id.ID) (*invoices.Invoice, error) {
	for _, b := range s.bills {
		if b.ID == invoiceID {
			return b, nil
		}
	}
	return nil, apperror.NewNotFound("invoice", invoiceID.String())
}

func (s *billStub) IsBillPaid(ctx context.Context, billID id.ID) (bool, error) {
	return s.paid[billID], nil
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

type attachment struct {
	ownerType string
	ownerID   id.ID
	name      string
	content   []byte
}

type attachStub struct {
	attached []attachment
}

func (s *attachStub) Attach(ctx context.Context, ownerType string, ownerID id.ID, name string, content []byte) error {
	s.attached = append(s.attached, attachment{
		ownerType: ownerType,
		ownerID:   ownerID,
		name:      name,
		content:   content,
	})
	return nil
}

// --- fixture ---

type env struct {
	svc         *Service
	batches     *memBatchRepo
	entries     *memEntryRepo
	compliance  *complianceStub
	bills       *billStub
	attachments *attachStub
}

func eligibleProfile() *partners.ComplianceProfile {
	return &partners.ComplianceProfile{
		Available:    true,
		Eligible:     true,
		KYCStatus:    partners.KYCVerified,
		BankVerified: true,
		Rate:         types.NewRate(10),
	}
}

func validConfig() Config {
	return Config{
		PayableAccount:    "2110",
		PurchaseJournal:   "PJ",
		CommissionProduct: "commission",
	}
}

func newEnv(cfg Config) *env {
	batches := newMemBatchRepo()
	entries := newMemEntryRepo()
	compliance := &complianceStub{profiles: make(map[id.ID]*partners.ComplianceProfile)}
	bills := newBillStub()
	attachments := &attachStub{}
	dir := &partnerDirStub{byID: make(map[id.ID]*partners.Partner)}

	ledgerSvc := ledger.NewService(entries, compliance, bills, nil, txStub{})
	svc := NewService(batches, entries, ledgerSvc, dir, bills, attachments,
		sequence.New(&seqQuerier{}), txStub{}, domain.NopAudit{}, cfg)

	return &env{
		svc:         svc,
		batches:     batches,
		entries:     entries,
		compliance:  compliance,
		bills:       bills,
		attachments: attachments,
	}
}

// seedEntry stores an invoice-type entry ready for claiming. The state is
// seeded on_hold; the load's recompute decides the real state.
func (e *env) seedEntry(partnerID id.ID, amount string) *ledger.Entry {
	entry := &ledger.Entry{
		BaseDocument:           entity.NewBaseDocument(),
		OrganizationID:         "org-1",
		PartnerID:              partnerID,
		InvoiceID:              id.New(),
		EntryType:              ledger.TypeInvoice,
		CommissionRateUsed:     types.NewRate(10),
		CommissionAmountSigned: types.MustMoney(amount),
		State:                  ledger.StateOnHold,
	}
	e.entries.entries[entry.ID] = *entry
	return entry
}

func (e *env) seedRefund(partnerID id.ID, amount string) *ledger.Entry {
	origin := id.New()
	entry := &ledger.Entry{
		BaseDocument:           entity.NewBaseDocument(),
		OrganizationID:         "org-1",
		PartnerID:              partnerID,
		InvoiceID:              id.New(),
		OriginInvoiceID:        &origin,
		EntryType:              ledger.TypeRefund,
		CommissionRateUsed:     types.NewRate(10),
		CommissionAmountSigned: types.MustMoney(amount).Neg(),
		State:                  ledger.StateReversed,
	}
	e.entries.entries[entry.ID] = *entry
	return entry
}

// --- tests ---

func TestLoadPayables_ClaimsOnlyPayable(t *testing.T) {
	ctx := context.Background()
	e := newEnv(validConfig())

	good := id.New()
	blocked := id.New()
	e.compliance.profiles[good] = eligibleProfile()
	held := eligibleProfile()
	held.Eligible = false
	e.compliance.profiles[blocked] = held

	payable := e.seedEntry(good, "50")
	e.seedEntry(blocked, "30")
	e.seedRefund(good, "20")

	b, err := e.svc.Create(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("PB-%d-00001", time.Now().Year()), b.Number)

	claimed, err := e.svc.LoadPayables(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, payable.ID, claimed[0].ID)
	assert.Equal(t, ledger.StatePayable, claimed[0].State)

	stored := e.entries.entries[payable.ID]
	require.NotNil(t, stored.PayoutBatchID)
	assert.Equal(t, b.ID, *stored.PayoutBatchID)
}

func TestLoadPayables_ReloadReclaims(t *testing.T) {
	ctx := context.Background()
	e := newEnv(validConfig())

	partner := id.New()
	e.compliance.profiles[partner] = eligibleProfile()
	e.seedEntry(partner, "50")

	b, err := e.svc.Create(ctx, "org-1")
	require.NoError(t, err)

	first, err := e.svc.LoadPayables(ctx, b.ID)
	require.NoError(t, err)

	// A second entry appears before the operator regenerates.
	e.seedEntry(partner, "25")

	second, err := e.svc.LoadPayables(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, first, 1)
	assert.Len(t, second, 2)
}

func TestLoadPayables_NothingPayableDiagnostics(t *testing.T) {
	ctx := context.Background()
	e := newEnv(validConfig())

	// Partner has no compliance profile, so the only candidate holds.
	e.seedEntry(id.New(), "50")

	// One already-billed entry for the diagnostics counter.
	partner := id.New()
	e.compliance.profiles[partner] = eligibleProfile()
	billed := e.seedEntry(partner, "10")
	billID := id.New()
	require.NoError(t, e.entries.SetVendorBill(ctx, []id.ID{billed.ID}, billID))

	b, err := e.svc.Create(ctx, "org-1")
	require.NoError(t, err)

	_, err = e.svc.LoadPayables(ctx, b.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeNothingPayable))

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, 1, appErr.Details["candidates"])
	assert.Equal(t, 1, appErr.Details["on_hold"])
	assert.Equal(t, int64(1), appErr.Details["already_billed"])
}

func TestLoadPayables_RequiresDraft(t *testing.T) {
	ctx := context.Background()
	e := newEnv(validConfig())

	partner := id.New()
	e.compliance.profiles[partner] = eligibleProfile()
	e.seedEntry(partner, "50")

	b, err := e.svc.Create(ctx, "org-1")
	require.NoError(t, err)
	_, err = e.svc.LoadPayables(ctx, b.ID)
	require.NoError(t, err)
	_, err = e.svc.GenerateVendorBills(ctx, b.ID)
	require.NoError(t, err)

	_, err = e.svc.LoadPayables(ctx, b.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeBatchState))
}

func TestGenerateVendorBills_GroupsPerPartner(t *testing.T) {
	ctx := context.Background()
	e := newEnv(validConfig())

	alice := id.New()
	bob := id.New()
	e.compliance.profiles[alice] = eligibleProfile()
	e.compliance.profiles[bob] = eligibleProfile()

	a1 := e.seedEntry(alice, "50")
	a2 := e.seedEntry(alice, "30")
	b1 := e.seedEntry(bob, "20")

	b, err := e.svc.Create(ctx, "org-1")
	require.NoError(t, err)
	_, err = e.svc.LoadPayables(ctx, b.ID)
	require.NoError(t, err)

	generated, err := e.svc.GenerateVendorBills(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StateGenerated, generated.State)
	require.NotNil(t, generated.GeneratedAt)

	require.Len(t, e.bills.bills, 2)
	totals := map[id.ID]types.Money{}
	for _, bill := range e.bills.bills {
		totals[*bill.AttributedPartnerID] = bill.UntaxedAmount
	}
	assert.True(t, totals[alice].Equal(types.MustMoney("80")))
	assert.True(t, totals[bob].Equal(types.MustMoney("20")))

	// Both of alice's entries point at the same bill.
	sa1 := e.entries.entries[a1.ID]
	sa2 := e.entries.entries[a2.ID]
	sb1 := e.entries.entries[b1.ID]
	require.NotNil(t, sa1.VendorBillID)
	require.NotNil(t, sa2.VendorBillID)
	require.NotNil(t, sb1.VendorBillID)
	assert.Equal(t, *sa1.VendorBillID, *sa2.VendorBillID)
	assert.NotEqual(t, *sa1.VendorBillID, *sb1.VendorBillID)

	// One statement per partner, attached to that partner's bill.
	require.Len(t, e.attachments.attached, 2)
	statements := map[id.ID]attachment{}
	for _, a := range e.attachments.attached {
		assert.Equal(t, "invoice", a.ownerType)
		assert.Contains(t, a.name, generated.Number)
		statements[a.ownerID] = a
	}
	aliceStmt, ok := statements[*sa1.VendorBillID]
	require.True(t, ok)
	assert.Contains(t, string(aliceStmt.content), "Total 80.00")
	bobStmt, ok := statements[*sb1.VendorBillID]
	require.True(t, ok)
	assert.Contains(t, string(bobStmt.content), "Total 20.00")
}

func TestGenerateVendorBills_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(validConfig())

	good := id.New()
	risky := id.New()
	e.compliance.profiles[good] = eligibleProfile()
	e.compliance.profiles[risky] = eligibleProfile()
	e.seedEntry(good, "50")
	e.seedEntry(risky, "30")

	b, err := e.svc.Create(ctx, "org-1")
	require.NoError(t, err)
	_, err = e.svc.LoadPayables(ctx, b.ID)
	require.NoError(t, err)

	// Partner turns ineligible between load and generate.
	e.compliance.profiles[risky].Eligible = false

	_, err = e.svc.GenerateVendorBills(ctx, b.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodePayoutGate))

	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, []string{risky.String()}, appErr.Details["blocked_partners"])

	// Nothing moved: no bills, batch still draft.
	assert.Empty(t, e.bills.bills)
	stored, err := e.svc.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDraft, stored.State)
}

func TestGenerateVendorBills_RequiresSettings(t *testing.T) {
	ctx := context.Background()
	e := newEnv(Config{PayableAccount: "2110"})

	b, err := e.svc.Create(ctx, "org-1")
	require.NoError(t, err)

	_, err = e.svc.GenerateVendorBills(ctx, b.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))

	appErr, _ := apperror.AsAppError(err)
	assert.ElementsMatch(t, []string{"purchase_journal", "commission_product"},
		appErr.Details["missing"])
}

func TestGenerateVendorBills_RequiresLoadedEntries(t *testing.T) {
	ctx := context.Background()
	e := newEnv(validConfig())

	b, err := e.svc.Create(ctx, "org-1")
	require.NoError(t, err)

	_, err = e.svc.GenerateVendorBills(ctx, b.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeNothingPayable))
}

func TestSyncPaidStatus_CompletesWhenAllBillsPaid(t *testing.T) {
	ctx := context.Background()
	e := newEnv(validConfig())

	alice := id.New()
	bob := id.New()
	e.compliance.profiles[alice] = eligibleProfile()
	e.compliance.profiles[bob] = eligibleProfile()
	e.seedEntry(alice, "50")
	e.seedEntry(bob, "20")

	b, err := e.svc.Create(ctx, "org-1")
	require.NoError(t, err)
	_, err = e.svc.LoadPayables(ctx, b.ID)
	require.NoError(t, err)
	_, err = e.svc.GenerateVendorBills(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, e.bills.bills, 2)

	// Only one bill paid: batch stays generated.
	e.bills.paid[e.bills.bills[0].ID] = true
	synced, err := e.svc.SyncPaidStatus(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StateGenerated, synced.State)
	assert.Nil(t, synced.CompletedAt)

	// Both paid: entries flip to paid and the batch completes.
	e.bills.paid[e.bills.bills[1].ID] = true
	synced, err = e.svc.SyncPaidStatus(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDone, synced.State)
	require.NotNil(t, synced.CompletedAt)

	claimed, err := e.svc.Entries(ctx, b.ID)
	require.NoError(t, err)
	for _, entry := range claimed {
		assert.Equal(t, ledger.StatePaid, entry.State)
	}

	// Syncing a completed batch is a no-op.
	again, err := e.svc.SyncPaidStatus(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDone, again.State)
}

func TestSweepSyncPaidStatus(t *testing.T) {
	ctx := context.Background()
	e := newEnv(validConfig())

	partner := id.New()
	e.compliance.profiles[partner] = eligibleProfile()

	var batchIDs []id.ID
	for i := 0; i < 2; i++ {
		e.seedEntry(partner, "10")
		b, err := e.svc.Create(ctx, "org-1")
		require.NoError(t, err)
		_, err = e.svc.LoadPayables(ctx, b.ID)
		require.NoError(t, err)
		_, err = e.svc.GenerateVendorBills(ctx, b.ID)
		require.NoError(t, err)
		batchIDs = append(batchIDs, b.ID)
	}

	for _, bill := range e.bills.bills {
		e.bills.paid[bill.ID] = true
	}

	e.svc.SweepSyncPaidStatus(ctx)

	for _, bid := range batchIDs {
		stored, err := e.svc.GetByID(ctx, bid)
		require.NoError(t, err)
		assert.Equal(t, StateDone, stored.State)
	}
}

func TestSweepRecomputeUnclaimed(t *testing.T) {
	ctx := context.Background()
	e := newEnv(validConfig())

	partner := id.New()
	e.compliance.profiles[partner] = eligibleProfile()
	entry := e.seedEntry(partner, "10")

	e.svc.SweepRecomputeUnclaimed(ctx)

	stored := e.entries.entries[entry.ID]
	assert.Equal(t, ledger.StatePayable, stored.State)
}
