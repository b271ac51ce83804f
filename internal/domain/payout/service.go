package payout

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"partnerpay/internal/core/apperror"
	appctx "partnerpay/internal/core/context"
	"partnerpay/internal/core/id"
	"partnerpay/internal/core/tx"
	"partnerpay/internal/core/types"
	"partnerpay/internal/domain"
	"partnerpay/internal/domain/invoices"
	"partnerpay/internal/domain/ledger"
	"partnerpay/internal/domain/partners"
	"partnerpay/pkg/logger"
	"partnerpay/pkg/sequence"
)

const (
	numberPrefix = "PB"

	// sweepChunkSize bounds each sweep pass; the cursor is the UUIDv7 id,
	// so ascending chunks cover rows inserted mid-sweep too.
	sweepChunkSize = 100
)

// BillService is the slice of the invoice service the orchestrator needs to
// create and inspect commission vendor bills.
type BillService interface {
	CreateVendorBill(ctx context.Context, organizationID string, partnerID id.ID, amount types.Money, comment string) (*invoices.Invoice, error)
	GetByID(ctx context.Context, invoiceID id.ID) (*invoices.Invoice, error)
}

// PartnerDirectory resolves partners for statement rendering and the
// compliance gate.
type PartnerDirectory interface {
	GetByID(ctx context.Context, partnerID id.ID) (*partners.Partner, error)
}

// AttachmentStore persists generated payout statements next to the batch.
type AttachmentStore interface {
	Attach(ctx context.Context, ownerType string, ownerID id.ID, name string, content []byte) error
}

// Config holds the accounting settings bill generation depends on. All three
// must be set before any bill is created.
type Config struct {
	PayableAccount    string
	PurchaseJournal   string
	CommissionProduct string
}

func (c Config) validate() error {
	var missing []string
	if c.PayableAccount == "" {
		missing = append(missing, "payable_account")
	}
	if c.PurchaseJournal == "" {
		missing = append(missing, "purchase_journal")
	}
	if c.CommissionProduct == "" {
		missing = append(missing, "commission_product")
	}
	if len(missing) > 0 {
		return apperror.NewValidation("payout settings are incomplete").
			WithDetail("missing", missing)
	}
	return nil
}

// Service orchestrates payout batches: claiming payable entries, generating
// one vendor bill per partner, and reconciling bill payments back onto the
// ledger.
type Service struct {
	repo        Repository
	entries     ledger.Repository
	ledger      *ledger.Service
	partners    PartnerDirectory
	bills       BillService
	attachments AttachmentStore
	seq         *sequence.Service
	txManager   tx.Manager
	audit       domain.AuditRecorder
	cfg         Config
}

// NewService creates a new payout batch service. attachments may be nil.
func NewService(
	repo Repository,
	entries ledger.Repository,
	ledgerSvc *ledger.Service,
	partnerDir PartnerDirectory,
	bills BillService,
	attachments AttachmentStore,
	seq *sequence.Service,
	txManager tx.Manager,
	audit domain.AuditRecorder,
	cfg Config,
) *Service {
	return &Service{
		repo:        repo,
		entries:     entries,
		ledger:      ledgerSvc,
		partners:    partnerDir,
		bills:       bills,
		attachments: attachments,
		seq:         seq,
		txManager:   txManager,
		audit:       audit,
		cfg:         cfg,
	}
}

// Create creates a new draft batch for the organization.
func (s *Service) Create(ctx context.Context, organizationID string) (*Batch, error) {
	b := NewBatch(organizationID)
	if err := b.Validate(ctx); err != nil {
		return nil, err
	}

	number, err := s.seq.Next(ctx, sequence.DefaultConfig(numberPrefix), nil, time.Now())
	if err != nil {
		return nil, err
	}
	b.Number = number

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, b)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "payout batch created", "id", b.ID, "number", b.Number)
	return b, nil
}

// GetByID retrieves a batch.
func (s *Service) GetByID(ctx context.Context, batchID id.ID) (*Batch, error) {
	return s.repo.GetByID(ctx, batchID)
}

// List retrieves batches with filtering.
func (s *Service) List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[*Batch], error) {
	return s.repo.List(ctx, filter)
}

// Entries retrieves the ledger entries claimed by the batch.
func (s *Service) Entries(ctx context.Context, batchID id.ID) ([]*ledger.Entry, error) {
	return s.entries.ListByBatch(ctx, batchID)
}

// LoadPayables refreshes and claims the organization's payable entries for a
// draft batch. Reloading is safe: previously claimed but unbilled entries are
// released first, then the candidate set is recomputed and re-claimed. The
// claim is guarded at the storage level, so two batches can never share an
// entry. When nothing is claimable the error carries diagnostic counts.
func (s *Service) LoadPayables(ctx context.Context, batchID id.ID) ([]*ledger.Entry, error) {
	var claimed []*ledger.Entry
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if err := b.requireState(StateDraft); err != nil {
			return err
		}

		if err := s.entries.ReleaseBatch(ctx, batchID); err != nil {
			return err
		}

		candidates, err := s.entries.ListUnclaimedCandidates(ctx, b.OrganizationID)
		if err != nil {
			return err
		}
		if err := s.ledger.RecomputePayoutState(ctx, candidates); err != nil {
			return err
		}

		var payable []*ledger.Entry
		for _, e := range candidates {
			if e.State == ledger.StatePayable && e.CommissionAmountSigned.IsPositive() {
				payable = append(payable, e)
			}
		}
		if len(payable) == 0 {
			return s.nothingPayable(ctx, b, candidates)
		}

		ids := make([]id.ID, len(payable))
		for i, e := range payable {
			ids[i] = e.ID
		}
		n, err := s.entries.ClaimForBatch(ctx, batchID, ids)
		if err != nil {
			return err
		}
		if n != int64(len(ids)) {
			// Another batch claimed part of the set between listing and
			// claiming. Abort and let the caller retry.
			return apperror.NewConcurrentModification("payout_batch", batchID.String()).
				WithDetail("expected", len(ids)).
				WithDetail("claimed", n)
		}

		for _, e := range payable {
			bID := batchID
			e.PayoutBatchID = &bID
		}
		claimed = payable
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, batchID, "payables_loaded", map[string]any{"count": len(claimed)})
	logger.Info(ctx, "payables loaded", "batch_id", batchID, "count", len(claimed))
	return claimed, nil
}

// nothingPayable explains an empty claim so operators can tell "all held"
// from "already billed" from "nothing there at all".
func (s *Service) nothingPayable(ctx context.Context, b *Batch, candidates []*ledger.Entry) error {
	onHold := 0
	for _, e := range candidates {
		if e.State == ledger.StateOnHold {
			onHold++
		}
	}
	billed, err := s.entries.CountAlreadyBilled(ctx, b.OrganizationID)
	if err != nil {
		return err
	}
	return apperror.NewBusinessRule(apperror.CodeNothingPayable, "no payable entries to claim").
		WithDetail("batch_id", b.ID.String()).
		WithDetail("candidates", len(candidates)).
		WithDetail("on_hold", onHold).
		WithDetail("already_billed", billed)
}

// GenerateVendorBills turns the batch's claimed entries into vendor bills,
// one per partner. The operation is all-or-nothing: every claimed entry must
// be payable and every partner compliant, or no bill is created at all.
func (s *Service) GenerateVendorBills(ctx context.Context, batchID id.ID) (*Batch, error) {
	if err := s.cfg.validate(); err != nil {
		return nil, err
	}

	var result *Batch
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if err := b.requireState(StateDraft); err != nil {
			return err
		}

		entries, err := s.entries.ListByBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return apperror.NewBusinessRule(apperror.CodeNothingPayable,
				"batch has no claimed entries; load payables first").
				WithDetail("batch_id", batchID.String())
		}

		// Re-check eligibility right before money moves. Anything that
		// slipped to on_hold since the claim fails the whole batch.
		if err := s.ledger.RecomputePayoutState(ctx, entries); err != nil {
			return err
		}
		if err := s.complianceGate(batchID, entries); err != nil {
			return err
		}

		groups := groupByPartner(entries)
		for _, g := range groups {
			bill, err := s.bills.CreateVendorBill(ctx, b.OrganizationID, g.partnerID, g.total,
				"Commission payout "+b.Number)
			if err != nil {
				return err
			}
			if err := s.entries.SetVendorBill(ctx, g.entryIDs(), bill.ID); err != nil {
				return err
			}
			for _, e := range g.entries {
				billID := bill.ID
				e.VendorBillID = &billID
			}
			s.attachStatement(ctx, b, g, bill)
			logger.Info(ctx, "vendor bill generated",
				"batch_id", batchID, "partner_id", g.partnerID,
				"bill_id", bill.ID, "amount", g.total, "entries", len(g.entries))
		}

		now := time.Now().UTC()
		b.State = StateGenerated
		b.GeneratedAt = &now
		b.UpdatedBy = actorOf(ctx)
		b.Touch()
		if err := s.repo.Update(ctx, b); err != nil {
			return err
		}
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, batchID, "bills_generated", nil)
	return result, nil
}

// complianceGate fails if any claimed entry is not payable after the final
// recompute. One bad partner blocks the whole batch.
func (s *Service) complianceGate(batchID id.ID, entries []*ledger.Entry) error {
	blocked := map[string]struct{}{}
	for _, e := range entries {
		if e.State != ledger.StatePayable {
			blocked[e.PartnerID.String()] = struct{}{}
		}
	}
	if len(blocked) == 0 {
		return nil
	}

	ids := make([]string, 0, len(blocked))
	for pid := range blocked {
		ids = append(ids, pid)
	}
	sort.Strings(ids)
	return apperror.NewPayoutGate("batch contains entries that are not payable; no bills were created").
		WithDetail("batch_id", batchID.String()).
		WithDetail("blocked_partners", ids)
}

type partnerGroup struct {
	partnerID id.ID
	entries   []*ledger.Entry
	total     types.Money
}

func (g *partnerGroup) entryIDs() []id.ID {
	ids := make([]id.ID, len(g.entries))
	for i, e := range g.entries {
		ids[i] = e.ID
	}
	return ids
}

// groupByPartner buckets entries per partner in a stable order.
func groupByPartner(entries []*ledger.Entry) []*partnerGroup {
	byPartner := map[id.ID]*partnerGroup{}
	var order []id.ID
	for _, e := range entries {
		g, ok := byPartner[e.PartnerID]
		if !ok {
			g = &partnerGroup{partnerID: e.PartnerID, total: types.Zero()}
			byPartner[e.PartnerID] = g
			order = append(order, e.PartnerID)
		}
		g.entries = append(g.entries, e)
		g.total = g.total.Add(e.CommissionAmountSigned)
	}

	groups := make([]*partnerGroup, len(order))
	for i, pid := range order {
		groups[i] = byPartner[pid]
	}
	return groups
}

// attachStatement renders a plain-text payout statement for one partner
// group and attaches it to that partner's vendor bill. Best-effort: a
// failed attachment never rolls back the generated bill.
func (s *Service) attachStatement(ctx context.Context, b *Batch, g *partnerGroup, bill *invoices.Invoice) {
	if s.attachments == nil {
		return
	}

	name := g.partnerID.String()
	if p, err := s.partners.GetByID(ctx, g.partnerID); err == nil {
		name = p.Name
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Payout statement %s (%s)\n", b.Number, b.OrganizationID)
	fmt.Fprintf(&sb, "Partner: %s\n\n", name)
	for _, e := range g.entries {
		fmt.Fprintf(&sb, "  invoice %s  %s\n", e.InvoiceID, e.CommissionAmountSigned.StringFixed(2))
	}
	fmt.Fprintf(&sb, "\nTotal %s\n", g.total.StringFixed(2))

	fileName := fmt.Sprintf("%s-%s-statement.txt", b.Number, g.partnerID)
	if err := s.attachments.Attach(ctx, "invoice", bill.ID, fileName, []byte(sb.String())); err != nil {
		logger.Warn(ctx, "statement attachment failed",
			"batch_id", b.ID, "bill_id", bill.ID, "error", err)
	}
}

// SyncPaidStatus reconciles vendor bill payments back onto the batch's
// entries. When every non-refund entry is paid the batch completes. Calling
// it on a completed batch is a no-op.
func (s *Service) SyncPaidStatus(ctx context.Context, batchID id.ID) (*Batch, error) {
	var result *Batch
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if b.State == StateDone {
			result = b
			return nil
		}
		if err := b.requireState(StateGenerated); err != nil {
			return err
		}

		entries, err := s.entries.ListByBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if err := s.ledger.RecomputePayoutState(ctx, entries); err != nil {
			return err
		}

		for _, e := range entries {
			if !e.IsRefund() && e.State != ledger.StatePaid {
				result = b
				return nil
			}
		}

		now := time.Now().UTC()
		b.State = StateDone
		b.CompletedAt = &now
		b.UpdatedBy = actorOf(ctx)
		b.Touch()
		if err := s.repo.Update(ctx, b); err != nil {
			return err
		}
		result = b

		logger.Info(ctx, "payout batch completed", "batch_id", b.ID, "number", b.Number)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.State == StateDone {
		s.record(ctx, batchID, "completed", nil)
	}
	return result, nil
}

// SweepSyncPaidStatus walks all open generated batches in id-ascending
// chunks and reconciles each one. Per-batch failures are logged and skipped
// so one broken batch never stalls the sweep.
func (s *Service) SweepSyncPaidStatus(ctx context.Context) {
	var cursor id.ID
	for {
		batches, err := s.repo.ListOpenChunk(ctx, cursor, sweepChunkSize)
		if err != nil {
			logger.Error(ctx, "payment sweep chunk failed", "error", err)
			return
		}
		if len(batches) == 0 {
			return
		}

		for _, b := range batches {
			if _, err := s.SyncPaidStatus(ctx, b.ID); err != nil {
				logger.Error(ctx, "payment sync failed",
					"batch_id", b.ID, "error", err)
			}
		}
		cursor = batches[len(batches)-1].ID
	}
}

// SweepRecomputeUnclaimed walks unclaimed ledger entries in id-ascending
// chunks and recomputes their payout state, so compliance changes surface
// without waiting for a batch load.
func (s *Service) SweepRecomputeUnclaimed(ctx context.Context) {
	var cursor id.ID
	for {
		entries, err := s.entries.ListUnclaimedChunk(ctx, cursor, sweepChunkSize)
		if err != nil {
			logger.Error(ctx, "recompute sweep chunk failed", "error", err)
			return
		}
		if len(entries) == 0 {
			return
		}

		if err := s.ledger.RecomputePayoutState(ctx, entries); err != nil {
			logger.Error(ctx, "recompute sweep failed",
				"after_id", cursor, "error", err)
		}
		cursor = entries[len(entries)-1].ID
	}
}

func actorOf(ctx context.Context) string {
	if uid := appctx.GetUserID(ctx); uid != "" {
		return uid
	}
	return "system"
}

func (s *Service) record(ctx context.Context, batchID id.ID, action string, payload any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, "payout_batch", batchID.String(), action, payload); err != nil {
		logger.Warn(ctx, "audit record failed", "action", action, "error", err)
	}
}
