package ledger

import (
	"context"

	"partnerpay/internal/core/apperror"
	"partnerpay/internal/core/entity"
	"partnerpay/internal/core/id"
	"partnerpay/internal/core/tx"
	"partnerpay/internal/core/types"
	"partnerpay/internal/domain"
	"partnerpay/internal/domain/invoices"
	"partnerpay/internal/domain/partners"
	"partnerpay/pkg/logger"
)

// ComplianceProfileProvider is the explicit capability through which the
// recompute reads partner eligibility. A directory that cannot produce a
// profile returns one with Available=false, which reads as not eligible.
type ComplianceProfileProvider interface {
	ComplianceProfileFor(ctx context.Context, partnerID id.ID) (*partners.ComplianceProfile, error)
}

// BillPaymentChecker reports whether a linked vendor bill is confirmed paid.
type BillPaymentChecker interface {
	IsBillPaid(ctx context.Context, billID id.ID) (bool, error)
}

// HoldPolicy is an optional configurable rule that may force an entry to
// on_hold. It is consulted only after the built-in hold rules and can never
// promote an entry to payable or paid. Evaluation errors skip the policy.
type HoldPolicy interface {
	Evaluate(ctx context.Context, vars map[string]any) (bool, error)
}

// Service provides ledger operations: idempotent entry creation and the
// deterministic payout-state recompute.
type Service struct {
	repo       Repository
	compliance ComplianceProfileProvider
	bills      BillPaymentChecker
	policy     HoldPolicy
	txManager  tx.Manager
}

// NewService creates a new ledger service. policy may be nil.
func NewService(
	repo Repository,
	compliance ComplianceProfileProvider,
	bills BillPaymentChecker,
	policy HoldPolicy,
	txManager tx.Manager,
) *Service {
	return &Service{
		repo:       repo,
		compliance: compliance,
		bills:      bills,
		policy:     policy,
		txManager:  txManager,
	}
}

// CreateEntryIfNeeded creates the ledger entry for a paid invoice. It is a
// no-op unless the invoice has an attributed partner, is a customer document
// (invoice or refund), is posted, and is fully paid. The existence check is
// a fast path; the insert's ON CONFLICT guard makes concurrent triggers
// safe. Reports whether a new entry was inserted.
func (s *Service) CreateEntryIfNeeded(ctx context.Context, inv *invoices.Invoice) (bool, error) {
	if inv.AttributedPartnerID == nil || !inv.IsCustomerDoc() || !inv.IsPosted() || !inv.IsPaid() {
		return false, nil
	}

	if _, err := s.repo.GetByInvoiceID(ctx, inv.ID); err == nil {
		return false, nil
	} else if !apperror.IsNotFound(err) {
		return false, err
	}

	entry := entryFromInvoice(inv)
	if err := entry.Validate(ctx); err != nil {
		return false, err
	}

	var inserted bool
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		inserted, err = s.repo.Insert(ctx, entry)
		return err
	})
	if err != nil {
		return false, err
	}

	if inserted {
		logger.Info(ctx, "ledger entry created",
			"entry_id", entry.ID,
			"invoice_id", inv.ID,
			"amount", entry.CommissionAmountSigned)
	}
	return inserted, nil
}

// entryFromInvoice freezes the invoice's commission snapshot into a new
// entry. Zero-rate invoices still get an entry for audit completeness; the
// recompute immediately holds them.
func entryFromInvoice(inv *invoices.Invoice) *Entry {
	rate := types.Rate{}
	amount := types.Zero()
	if inv.CommissionRateUsed != nil {
		rate = *inv.CommissionRateUsed
	}
	if inv.CommissionAmount != nil {
		amount = *inv.CommissionAmount
	}

	entryType := TypeInvoice
	initial := StateOnHold
	if inv.IsRefund() {
		entryType = TypeRefund
		initial = StateReversed
	}

	return &Entry{
		BaseDocument:           entity.NewBaseDocument(),
		OrganizationID:         inv.OrganizationID,
		PartnerID:              *inv.AttributedPartnerID,
		InvoiceID:              inv.ID,
		OriginInvoiceID:        inv.ReversedInvoiceID,
		EntryType:              entryType,
		CommissionRateUsed:     rate,
		CommissionAmountSigned: amount,
		State:                  initial,
		InvoicePaidAt:          inv.PaidAt,
	}
}

// RecomputePayoutState reclassifies each entry from the current snapshot of
// compliance and bill payment state. Deterministic and idempotent; outside
// batch linkage this is the sole writer of entry state.
//
// Rules, in order:
//  1. refund entries are reversed (terminal)
//  2. non-positive commission holds
//  3. a linked vendor bill confirmed paid means paid (terminal)
//  4. an ineligible compliance profile holds
//  5. the configurable hold policy may hold
//  6. otherwise payable
func (s *Service) RecomputePayoutState(ctx context.Context, entries []*Entry) error {
	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		for _, e := range entries {
			next, err := s.computeState(ctx, e)
			if err != nil {
				return err
			}
			if next == e.State {
				continue
			}
			if err := s.repo.UpdateState(ctx, e.ID, next); err != nil {
				return err
			}
			e.State = next
		}
		return nil
	})
}

func (s *Service) computeState(ctx context.Context, e *Entry) (State, error) {
	if e.IsRefund() {
		return StateReversed, nil
	}

	if !e.CommissionAmountSigned.IsPositive() {
		return StateOnHold, nil
	}

	if e.VendorBillID != nil {
		paid, err := s.bills.IsBillPaid(ctx, *e.VendorBillID)
		if err != nil {
			return e.State, err
		}
		if paid {
			return StatePaid, nil
		}
	}

	profile, err := s.compliance.ComplianceProfileFor(ctx, e.PartnerID)
	if err != nil {
		return e.State, err
	}
	if !profile.Available || !profile.Eligible {
		return StateOnHold, nil
	}

	if hold, ok := s.policyHold(ctx, e, profile); ok && hold {
		return StateOnHold, nil
	}

	return StatePayable, nil
}

// policyHold consults the configurable hold policy. A failing policy is
// skipped, not treated as a hold: the policy can only add holds on top of
// healthy evaluation.
func (s *Service) policyHold(ctx context.Context, e *Entry, profile *partners.ComplianceProfile) (bool, bool) {
	if s.policy == nil {
		return false, false
	}

	amount, _ := e.CommissionAmountSigned.Float64()
	rate, _ := e.CommissionRateUsed.Float64()
	vars := map[string]any{
		"entry": map[string]any{
			"amount": amount,
			"rate":   rate,
			"type":   string(e.EntryType),
		},
		"partner": map[string]any{
			"kyc_status":    string(profile.KYCStatus),
			"kyc_blocked":   profile.KYCBlocked,
			"bank_verified": profile.BankVerified,
		},
	}

	hold, err := s.policy.Evaluate(ctx, vars)
	if err != nil {
		logger.Warn(ctx, "hold policy evaluation failed, skipping",
			"entry_id", e.ID, "error", err)
		return false, false
	}
	return hold, true
}

// RecomputeForInvoice recomputes the entry belonging to one invoice.
// Missing entries are fine: not every invoice earns a commission.
func (s *Service) RecomputeForInvoice(ctx context.Context, invoiceID id.ID) error {
	e, err := s.repo.GetByInvoiceID(ctx, invoiceID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil
		}
		return err
	}
	return s.RecomputePayoutState(ctx, []*Entry{e})
}

// LinkVendorBill attaches a vendor bill to the invoice's entry.
func (s *Service) LinkVendorBill(ctx context.Context, invoiceID, billID id.ID) error {
	e, err := s.repo.GetByInvoiceID(ctx, invoiceID)
	if err != nil {
		return err
	}
	return s.repo.SetVendorBill(ctx, []id.ID{e.ID}, billID)
}

// GetByID retrieves an entry.
func (s *Service) GetByID(ctx context.Context, entryID id.ID) (*Entry, error) {
	return s.repo.GetByID(ctx, entryID)
}

// List retrieves entries with filtering.
func (s *Service) List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[*Entry], error) {
	return s.repo.List(ctx, filter)
}

// Update rejects any mutation of core audit fields. Only state and linkage
// columns may change, and those flow through their dedicated operations,
// so a differing revision always fails.
func (s *Service) Update(ctx context.Context, e *Entry) error {
	current, err := s.repo.GetByID(ctx, e.ID)
	if err != nil {
		return err
	}
	if !current.coreFieldsEqual(e) {
		return apperror.NewLedgerAppendOnly("ledger entry core fields are immutable").
			WithDetail("entry_id", e.ID.String())
	}
	return apperror.NewLedgerAppendOnly("ledger entries are updated only by recompute and batch linkage").
		WithDetail("entry_id", e.ID.String())
}

// Delete always fails: the ledger is an append-only audit log.
func (s *Service) Delete(ctx context.Context, entryID id.ID) error {
	return apperror.NewLedgerAppendOnly("ledger entries cannot be deleted").
		WithDetail("entry_id", entryID.String())
}

var _ invoices.LedgerHook = (*Service)(nil)
