package invoices

import (
	"context"
	"time"

	"partnerpay/internal/core/apperror"
	appctx "partnerpay/internal/core/context"
	"partnerpay/internal/core/id"
	"partnerpay/internal/core/tx"
	"partnerpay/internal/core/types"
	"partnerpay/internal/domain"
	"partnerpay/internal/domain/attribution"
	"partnerpay/internal/domain/commission"
	"partnerpay/internal/domain/partners"
	"partnerpay/pkg/logger"
	"partnerpay/pkg/sequence"
)

// LedgerHook is the slice of the commission ledger the paid pipeline needs.
type LedgerHook interface {
	// CreateEntryIfNeeded creates the ledger entry for the invoice if all
	// preconditions hold; reports whether a new entry was inserted.
	CreateEntryIfNeeded(ctx context.Context, inv *Invoice) (bool, error)

	// LinkVendorBill attaches a vendor bill to the invoice's ledger entry.
	LinkVendorBill(ctx context.Context, invoiceID, billID id.ID) error

	// RecomputeForInvoice recomputes payout state for the invoice's entry.
	RecomputeForInvoice(ctx context.Context, invoiceID id.ID) error
}

// PartnerDirectory is the slice of the partner directory the pipeline needs.
type PartnerDirectory interface {
	GetByID(ctx context.Context, partnerID id.ID) (*partners.Partner, error)
}

// Config holds invoice service settings.
type Config struct {
	// AutoBillPerInvoice creates a commission vendor bill per paid invoice
	// instead of waiting for a payout batch. Off by default.
	AutoBillPerInvoice bool
}

// Service provides business operations over the invoice projection.
type Service struct {
	repo      Repository
	resolver  *attribution.Resolver
	partners  PartnerDirectory
	ledger    LedgerHook
	seq       *sequence.Service
	txManager tx.Manager
	audit     domain.AuditRecorder
	cfg       Config
	hooks     *domain.HookRegistry[*Invoice]
}

// NewService creates a new invoice service.
func NewService(
	repo Repository,
	resolver *attribution.Resolver,
	partnerDir PartnerDirectory,
	ledger LedgerHook,
	seq *sequence.Service,
	txManager tx.Manager,
	audit domain.AuditRecorder,
	cfg Config,
) *Service {
	return &Service{
		repo:      repo,
		resolver:  resolver,
		partners:  partnerDir,
		ledger:    ledger,
		seq:       seq,
		txManager: txManager,
		audit:     audit,
		cfg:       cfg,
		hooks:     domain.NewHookRegistry[*Invoice](),
	}
}

// Hooks returns the hook registry for registering callbacks.
func (s *Service) Hooks() *domain.HookRegistry[*Invoice] {
	return s.hooks
}

// Create creates a new document. When a customer document arrives without an
// explicit attribution, the visitor's ambient referral capture is consulted
// as a fallback; vendor bills never get ambient attribution.
func (s *Service) Create(ctx context.Context, inv *Invoice, visitorKey string) error {
	if err := s.hooks.RunBeforeCreate(ctx, inv); err != nil {
		return err
	}

	if err := inv.Validate(ctx); err != nil {
		return err
	}

	if inv.IsCustomerDoc() && inv.AttributedPartnerID == nil && s.resolver != nil {
		p, err := s.resolver.ResolveAmbient(ctx, visitorKey, time.Now().UTC())
		if err != nil {
			return err
		}
		if p != nil {
			inv.AttributedPartnerID = &p.ID
			logger.Info(ctx, "ambient referral attributed invoice",
				"invoice_id", inv.ID, "partner_id", p.ID)
		}
	}

	if inv.Number == "" {
		number, err := s.seq.Next(ctx, sequence.DefaultConfig(numberPrefix(inv.DocType)), nil, time.Now())
		if err != nil {
			return err
		}
		inv.Number = number
	}

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, inv)
	})
	if err != nil {
		return err
	}

	if err := s.hooks.RunAfterCreate(ctx, inv); err != nil {
		logger.Warn(ctx, "after-create hook failed", "error", err)
	}

	logger.Info(ctx, "document created",
		"id", inv.ID, "number", inv.Number, "type", inv.DocType)
	return nil
}

// GetByID retrieves a document.
func (s *Service) GetByID(ctx context.Context, invoiceID id.ID) (*Invoice, error) {
	return s.repo.GetByID(ctx, invoiceID)
}

// List retrieves documents with filtering.
func (s *Service) List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[*Invoice], error) {
	return s.repo.List(ctx, filter)
}

// Update modifies a document, enforcing attribution immutability: while
// locked, the attributed partner and lock metadata reject any change, and
// outside draft the attribution may not change at all. The commission
// snapshot and payment fields are owned by the paid pipeline, never by
// callers.
func (s *Service) Update(ctx context.Context, inv *Invoice) error {
	if err := s.hooks.RunBeforeUpdate(ctx, inv); err != nil {
		return err
	}

	if err := inv.Validate(ctx); err != nil {
		return err
	}

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetForUpdate(ctx, inv.ID)
		if err != nil {
			return err
		}

		if err := current.checkAttributionWritable(inv); err != nil {
			return err
		}

		inv.CommissionRateUsed = current.CommissionRateUsed
		inv.CommissionAmount = current.CommissionAmount
		inv.PaymentState = current.PaymentState
		inv.PaidAt = current.PaidAt
		inv.VendorBillID = current.VendorBillID

		return s.repo.Update(ctx, inv)
	})
	if err != nil {
		return err
	}

	if err := s.hooks.RunAfterUpdate(ctx, inv); err != nil {
		logger.Warn(ctx, "after-update hook failed", "error", err)
	}
	return nil
}

// Post transitions the document to posted. Posting a customer document with
// an attributed partner locks the attribution.
func (s *Service) Post(ctx context.Context, invoiceID id.ID) (*Invoice, error) {
	var posted *Invoice
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		inv, err := s.repo.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}

		if inv.IsPosted() {
			posted = inv
			return nil
		}

		inv.PostingState = PostingPosted
		if inv.IsCustomerDoc() && inv.AttributedPartnerID != nil {
			inv.LockAttribution(actor(ctx))
		}

		if err := s.repo.Update(ctx, inv); err != nil {
			return err
		}
		posted = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, posted, "posted", nil)
	return posted, nil
}

// MarkPaid confirms settlement and runs the paid pipeline. Marking an
// already paid document again is harmless: the pipeline's effects are
// idempotent end to end.
func (s *Service) MarkPaid(ctx context.Context, invoiceID id.ID) (*Invoice, error) {
	var paid *Invoice
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		inv, err := s.repo.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}

		if !inv.IsPaid() {
			now := time.Now().UTC()
			inv.PaymentState = PaymentPaid
			inv.PaidAt = &now
			if err := s.repo.Update(ctx, inv); err != nil {
				return err
			}
		}

		paid = inv
		return s.ProcessIfPaid(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, paid, "paid", nil)
	return paid, nil
}

// ProcessIfPaid is the paid-invoice pipeline: snapshot commission, create
// the ledger entry, optionally auto-create a per-invoice commission bill,
// recompute payout state. Its own write-backs onto the invoice run under a
// suppression flag so the pipeline cannot re-enter itself.
func (s *Service) ProcessIfPaid(ctx context.Context, inv *Invoice) error {
	if appctx.IsPaidProcessing(ctx) {
		return nil
	}
	ctx = appctx.WithPaidProcessing(ctx)

	if !inv.IsCustomerDoc() || !inv.IsPosted() || !inv.IsPaid() || inv.AttributedPartnerID == nil {
		return nil
	}

	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.snapshotCommission(ctx, inv); err != nil {
			return err
		}

		created, err := s.ledger.CreateEntryIfNeeded(ctx, inv)
		if err != nil {
			return err
		}

		if created && s.cfg.AutoBillPerInvoice && s.shouldAutoBill(inv) {
			if err := s.autoBill(ctx, inv); err != nil {
				return err
			}
		}

		return s.ledger.RecomputeForInvoice(ctx, inv.ID)
	})
}

// snapshotCommission freezes rate and amount onto the invoice. Once set the
// snapshot never changes, even if the partner's rate does.
func (s *Service) snapshotCommission(ctx context.Context, inv *Invoice) error {
	if inv.CommissionRateUsed != nil {
		return nil
	}

	partner, err := s.partners.GetByID(ctx, *inv.AttributedPartnerID)
	if err != nil {
		return err
	}

	rate := partner.CommissionRatePercent
	amount := commission.Calculate(rate, inv.UntaxedAmount, inv.IsRefund())
	inv.CommissionRateUsed = &rate
	inv.CommissionAmount = &amount

	return s.repo.Update(ctx, inv)
}

func (s *Service) shouldAutoBill(inv *Invoice) bool {
	return !inv.IsRefund() &&
		inv.VendorBillID == nil &&
		inv.CommissionAmount != nil &&
		inv.CommissionAmount.IsPositive()
}

// autoBill creates a single-invoice commission bill and links it to both
// the invoice and its ledger entry.
func (s *Service) autoBill(ctx context.Context, inv *Invoice) error {
	bill, err := s.CreateVendorBill(ctx, inv.OrganizationID, *inv.AttributedPartnerID,
		*inv.CommissionAmount, "Commission for "+inv.Number)
	if err != nil {
		return err
	}

	inv.VendorBillID = &bill.ID
	if err := s.repo.Update(ctx, inv); err != nil {
		return err
	}

	return s.ledger.LinkVendorBill(ctx, inv.ID, bill.ID)
}

// CreateVendorBill creates a payout obligation for the partner. Creation is
// transactional; the follow-up auto-posting is best-effort and never rolls
// the bill back.
func (s *Service) CreateVendorBill(ctx context.Context, organizationID string, partnerID id.ID, amount types.Money, comment string) (*Invoice, error) {
	bill := NewInvoice(organizationID, DocVendorBill)
	bill.AttributedPartnerID = &partnerID
	bill.UntaxedAmount = amount
	bill.Comment = comment

	number, err := s.seq.Next(ctx, sequence.DefaultConfig(billPrefix), nil, time.Now())
	if err != nil {
		return nil, err
	}
	bill.Number = number

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, bill)
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.Post(ctx, bill.ID); err != nil {
		logger.Warn(ctx, "auto-posting vendor bill failed",
			"bill_id", bill.ID, "error", err)
	} else {
		bill.PostingState = PostingPosted
	}

	return bill, nil
}

// MarkBillPaid confirms payment on a vendor bill. The paid pipeline no-ops
// for vendor bills; reconciliation back onto the ledger is the batch
// orchestrator's job.
func (s *Service) MarkBillPaid(ctx context.Context, billID id.ID) (*Invoice, error) {
	bill, err := s.repo.GetByID(ctx, billID)
	if err != nil {
		return nil, err
	}
	if bill.DocType != DocVendorBill {
		return nil, apperror.NewValidation("document is not a vendor bill").
			WithDetail("id", billID.String())
	}
	return s.MarkPaid(ctx, billID)
}

const billPrefix = "BILL"

func numberPrefix(t DocType) string {
	switch t {
	case DocCustomerRefund:
		return "RFD"
	case DocVendorBill:
		return billPrefix
	default:
		return "INV"
	}
}

func actor(ctx context.Context) string {
	if uid := appctx.GetUserID(ctx); uid != "" {
		return uid
	}
	return "system"
}

func (s *Service) record(ctx context.Context, inv *Invoice, action string, payload any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, "invoice", inv.ID.String(), action, payload); err != nil {
		logger.Warn(ctx, "audit record failed", "action", action, "error", err)
	}
}
