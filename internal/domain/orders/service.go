package orders

import (
	"context"
	"time"

	"partnerpay/internal/core/apperror"
	appctx "partnerpay/internal/core/context"
	"partnerpay/internal/core/id"
	"partnerpay/internal/core/tx"
	"partnerpay/internal/domain"
	"partnerpay/internal/domain/attribution"
	"partnerpay/internal/domain/invoices"
	"partnerpay/pkg/logger"
	"partnerpay/pkg/sequence"
)

const numberPrefix = "SO"

// InvoiceFactory creates the invoice a confirmed order converts into.
type InvoiceFactory interface {
	Create(ctx context.Context, inv *invoices.Invoice, visitorKey string) error
}

// Service provides business operations for sales orders.
type Service struct {
	repo      Repository
	resolver  *attribution.Resolver
	invoices  InvoiceFactory
	seq       *sequence.Service
	txManager tx.Manager
	audit     domain.AuditRecorder
	hooks     *domain.HookRegistry[*SalesOrder]
}

// NewService creates a new sales order service.
func NewService(
	repo Repository,
	resolver *attribution.Resolver,
	invoiceFactory InvoiceFactory,
	seq *sequence.Service,
	txManager tx.Manager,
	audit domain.AuditRecorder,
) *Service {
	return &Service{
		repo:      repo,
		resolver:  resolver,
		invoices:  invoiceFactory,
		seq:       seq,
		txManager: txManager,
		audit:     audit,
		hooks:     domain.NewHookRegistry[*SalesOrder](),
	}
}

// Hooks returns the hook registry for registering callbacks.
func (s *Service) Hooks() *domain.HookRegistry[*SalesOrder] {
	return s.hooks
}

// Create creates a new order. When a referral code is supplied it is
// resolved to an approved partner; an unresolvable code leaves the
// attribution empty rather than storing garbage.
func (s *Service) Create(ctx context.Context, o *SalesOrder, referralCode string) error {
	if err := s.hooks.RunBeforeCreate(ctx, o); err != nil {
		return err
	}

	if o.Stage == "" {
		o.Stage = StageDraft
	}

	if err := o.Validate(ctx); err != nil {
		return err
	}

	if referralCode != "" && o.AttributedPartnerID == nil {
		p, err := s.resolver.ResolveCode(ctx, referralCode)
		if err != nil {
			return err
		}
		if p != nil {
			o.AttributedPartnerID = &p.ID
		}
	}

	if o.Number == "" {
		number, err := s.seq.Next(ctx, sequence.DefaultConfig(numberPrefix), nil, time.Now())
		if err != nil {
			return err
		}
		o.Number = number
	}

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, o)
	})
	if err != nil {
		return err
	}

	if err := s.hooks.RunAfterCreate(ctx, o); err != nil {
		logger.Warn(ctx, "after-create hook failed", "error", err)
	}

	logger.Info(ctx, "sales order created", "id", o.ID, "number", o.Number)
	return nil
}

// GetByID retrieves an order.
func (s *Service) GetByID(ctx context.Context, orderID id.ID) (*SalesOrder, error) {
	return s.repo.GetByID(ctx, orderID)
}

// List retrieves orders with filtering.
func (s *Service) List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[*SalesOrder], error) {
	return s.repo.List(ctx, filter)
}

// Update modifies an order, enforcing attribution immutability.
func (s *Service) Update(ctx context.Context, o *SalesOrder) error {
	if err := s.hooks.RunBeforeUpdate(ctx, o); err != nil {
		return err
	}

	if err := o.Validate(ctx); err != nil {
		return err
	}

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetForUpdate(ctx, o.ID)
		if err != nil {
			return err
		}
		if err := current.checkAttributionWritable(o); err != nil {
			return err
		}
		return s.repo.Update(ctx, o)
	})
	if err != nil {
		return err
	}

	if err := s.hooks.RunAfterUpdate(ctx, o); err != nil {
		logger.Warn(ctx, "after-update hook failed", "error", err)
	}
	return nil
}

// SetAttribution resolves a referral code and writes the attribution,
// subject to the lock and draft rules. An empty or unresolvable code
// clears the attribution.
func (s *Service) SetAttribution(ctx context.Context, orderID id.ID, referralCode string) (*SalesOrder, error) {
	var result *SalesOrder
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		if o.AttributionLocked {
			return apperror.NewAttributionLocked("sales_order", o.ID.String())
		}
		if !o.IsDraft() {
			return apperror.NewBusinessRule(
				apperror.CodeAttributionLocked,
				"attribution may only change while the order is draft",
			).WithDetail("order_id", o.ID.String())
		}

		p, err := s.resolver.ResolveCode(ctx, referralCode)
		if err != nil {
			return err
		}
		if p != nil {
			o.AttributedPartnerID = &p.ID
		} else {
			o.AttributedPartnerID = nil
		}

		if err := s.repo.Update(ctx, o); err != nil {
			return err
		}
		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Confirm moves the order out of draft.
func (s *Service) Confirm(ctx context.Context, orderID id.ID) (*SalesOrder, error) {
	var result *SalesOrder
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Stage == StageDone {
			return apperror.NewBusinessRule(apperror.CodeBusinessRule,
				"order is already converted").WithDetail("order_id", o.ID.String())
		}
		o.Stage = StageConfirmed
		if err := s.repo.Update(ctx, o); err != nil {
			return err
		}
		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LockAttribution transitions the lock false→true, stamping actor and
// timestamp. Idempotent: locking a locked order is a no-op. Requires an
// attributed partner.
func (s *Service) LockAttribution(ctx context.Context, orderID id.ID) (*SalesOrder, error) {
	var result *SalesOrder
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		if o.AttributionLocked {
			result = o
			return nil
		}

		if o.AttributedPartnerID == nil {
			return apperror.NewValidation("cannot lock attribution without an attributed partner").
				WithDetail("order_id", o.ID.String())
		}

		now := time.Now().UTC()
		o.AttributionLocked = true
		o.AttributionLockedAt = &now
		o.AttributionLockedBy = actor(ctx)

		if err := s.repo.Update(ctx, o); err != nil {
			return err
		}
		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, result, "attribution_locked", nil)
	return result, nil
}

// UnlockAttribution clears the lock and its stamps. Requires the
// sales_manager role.
func (s *Service) UnlockAttribution(ctx context.Context, orderID id.ID) (*SalesOrder, error) {
	if !appctx.HasRole(ctx, appctx.RoleSalesManager) {
		return nil, apperror.NewForbidden("unlocking attribution requires the sales manager role")
	}

	var result *SalesOrder
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		o.AttributionLocked = false
		o.AttributionLockedAt = nil
		o.AttributionLockedBy = ""

		if err := s.repo.Update(ctx, o); err != nil {
			return err
		}
		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, result, "attribution_unlocked", nil)
	return result, nil
}

// ConvertToInvoice turns a confirmed order into a customer invoice.
// Attribution and lock metadata are copied verbatim, never re-resolved,
// and when a partner is attributed the lock is forced on.
func (s *Service) ConvertToInvoice(ctx context.Context, orderID id.ID) (*invoices.Invoice, error) {
	var created *invoices.Invoice

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		if o.Stage != StageConfirmed {
			return apperror.NewBusinessRule(apperror.CodeBusinessRule,
				"only confirmed orders can be converted to invoices").
				WithDetail("order_id", o.ID.String()).
				WithDetail("stage", string(o.Stage))
		}
		if o.InvoiceID != nil {
			return apperror.NewBusinessRule(apperror.CodeBusinessRule,
				"order is already invoiced").
				WithDetail("order_id", o.ID.String()).
				WithDetail("invoice_id", o.InvoiceID.String())
		}

		inv := invoices.NewInvoice(o.OrganizationID, invoices.DocCustomerInvoice)
		inv.CustomerName = o.CustomerName
		inv.UntaxedAmount = o.UntaxedAmount
		inv.SourceOrderID = &o.ID
		inv.AttributedPartnerID = o.AttributedPartnerID
		inv.AttributionLocked = o.AttributionLocked
		inv.AttributionLockedAt = o.AttributionLockedAt
		inv.AttributionLockedBy = o.AttributionLockedBy

		if inv.AttributedPartnerID != nil {
			inv.LockAttribution(actor(ctx))
		}

		// Explicit attribution already decided; no ambient fallback.
		if err := s.invoices.Create(ctx, inv, ""); err != nil {
			return err
		}

		o.Stage = StageDone
		o.InvoiceID = &inv.ID
		if err := s.repo.Update(ctx, o); err != nil {
			return err
		}

		created = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "order converted to invoice",
		"order_id", orderID, "invoice_id", created.ID)
	return created, nil
}

func actor(ctx context.Context) string {
	if uid := appctx.GetUserID(ctx); uid != "" {
		return uid
	}
	return "system"
}

func (s *Service) record(ctx context.Context, o *SalesOrder, action string, payload any) {
	if s.audit == nil || o == nil {
		return
	}
	if err := s.audit.Record(ctx, "sales_order", o.ID.String(), action, payload); err != nil {
		logger.Warn(ctx, "audit record failed", "action", action, "error", err)
	}
}
