package partners

import (
	"context"
	"time"

	"partnerpay/internal/core/apperror"
	"partnerpay/internal/core/id"
	"partnerpay/internal/core/tx"
	"partnerpay/internal/domain"
	"partnerpay/pkg/logger"
	"partnerpay/pkg/sequence"
)

// Sequence prefixes for identifier assignment on approval.
const (
	codePrefix = "PC"
	uidPrefix  = "AP"
)

// Service provides business logic for the partner directory.
type Service struct {
	repo      Repository
	seq       *sequence.Service
	txManager tx.Manager
	audit     domain.AuditRecorder
	hooks     *domain.HookRegistry[*Partner]
}

// NewService creates a new partner service.
func NewService(repo Repository, seq *sequence.Service, txManager tx.Manager, audit domain.AuditRecorder) *Service {
	return &Service{
		repo:      repo,
		seq:       seq,
		txManager: txManager,
		audit:     audit,
		hooks:     domain.NewHookRegistry[*Partner](),
	}
}

// Hooks returns the hook registry for registering callbacks.
func (s *Service) Hooks() *domain.HookRegistry[*Partner] {
	return s.hooks
}

// Create creates a new partner in draft state.
// Code and UID are never assigned here, only on approval.
func (s *Service) Create(ctx context.Context, p *Partner) error {
	if err := s.hooks.RunBeforeCreate(ctx, p); err != nil {
		return err
	}

	if p.ApprovalState == "" {
		p.ApprovalState = ApprovalDraft
	}
	if p.KYCStatus == "" {
		p.KYCStatus = KYCNotSubmitted
	}

	if p.PartnerCode != nil || p.PartnerUID != nil {
		return apperror.NewImmutableField("partner", "partnerCode").
			WithDetail("reason", "assigned only on approval")
	}

	if err := p.Validate(ctx); err != nil {
		return err
	}

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, p)
	})
	if err != nil {
		return err
	}

	if err := s.hooks.RunAfterCreate(ctx, p); err != nil {
		logger.Warn(ctx, "after-create hook failed", "error", err)
	}

	logger.Info(ctx, "partner created", "id", p.ID, "name", p.Name)
	return nil
}

// GetByID retrieves a partner.
func (s *Service) GetByID(ctx context.Context, partnerID id.ID) (*Partner, error) {
	return s.repo.GetByID(ctx, partnerID)
}

// GetByCode retrieves a partner by assigned code.
func (s *Service) GetByCode(ctx context.Context, code string) (*Partner, error) {
	return s.repo.GetByCode(ctx, code)
}

// Update modifies partner fields. Assigned code and UID are write-once:
// any attempt to change or clear them fails hard.
func (s *Service) Update(ctx context.Context, p *Partner) error {
	if err := s.hooks.RunBeforeUpdate(ctx, p); err != nil {
		return err
	}

	if err := p.Validate(ctx); err != nil {
		return err
	}

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}

		if changedIdentifier(current.PartnerCode, p.PartnerCode) {
			return apperror.NewImmutableField("partner", "partnerCode")
		}
		if changedIdentifier(current.PartnerUID, p.PartnerUID) {
			return apperror.NewImmutableField("partner", "partnerUid")
		}

		// Identifiers are owned by the approval flow, not by callers.
		p.PartnerCode = current.PartnerCode
		p.PartnerUID = current.PartnerUID

		return s.repo.Update(ctx, p)
	})
	if err != nil {
		return err
	}

	if err := s.hooks.RunAfterUpdate(ctx, p); err != nil {
		logger.Warn(ctx, "after-update hook failed", "error", err)
	}

	return nil
}

// Approve transitions a partner to approved and assigns code and UID
// exactly once via atomic sequence claims. Re-approval of an already
// approved partner is a no-op; re-approval after a reset keeps the
// identifiers assigned the first time.
func (s *Service) Approve(ctx context.Context, partnerID id.ID) (*Partner, error) {
	var approved *Partner

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetForUpdate(ctx, partnerID)
		if err != nil {
			return err
		}

		if p.IsApproved() {
			approved = p
			return nil
		}

		if p.Role == "" {
			return apperror.NewValidation("partner role must be set before approval").
				WithDetail("field", "role")
		}

		now := time.Now().UTC()

		if p.PartnerCode == nil {
			code, err := s.seq.Next(ctx, identifierConfig(codePrefix), nil, now)
			if err != nil {
				return err
			}
			p.PartnerCode = &code
		}
		if p.PartnerUID == nil {
			uid, err := s.seq.Next(ctx, identifierConfig(uidPrefix), nil, now)
			if err != nil {
				return err
			}
			p.PartnerUID = &uid
		}

		p.ApprovalState = ApprovalApproved
		p.ApprovedAt = &now

		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}

		approved = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, approved, "approved", map[string]any{
		"partnerCode": approved.PartnerCode,
		"partnerUid":  approved.PartnerUID,
	})
	logger.Info(ctx, "partner approved",
		"id", approved.ID,
		"code", approved.PartnerCode)

	return approved, nil
}

// ResetToDraft moves an approved partner back to draft.
// Assigned code and UID are kept: they are write-once for the lifetime
// of the partner, not of the approval.
func (s *Service) ResetToDraft(ctx context.Context, partnerID id.ID) (*Partner, error) {
	p, err := s.mutate(ctx, partnerID, func(p *Partner) error {
		p.ApprovalState = ApprovalDraft
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, p, "reset_to_draft", nil)
	return p, nil
}

// SetKYCStatus applies a KYC transition.
func (s *Service) SetKYCStatus(ctx context.Context, partnerID id.ID, status KYCStatus) (*Partner, error) {
	if !isValidKYCStatus(status) {
		return nil, apperror.NewValidation("invalid KYC status").
			WithDetail("value", string(status))
	}

	p, err := s.mutate(ctx, partnerID, func(p *Partner) error {
		p.KYCStatus = status
		if status == KYCVerified || status == KYCComplete {
			now := time.Now().UTC()
			p.KYCVerifiedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, p, "kyc_"+string(status), nil)
	return p, nil
}

// Block sets the KYC block flag, suspending payout eligibility.
func (s *Service) Block(ctx context.Context, partnerID id.ID) (*Partner, error) {
	p, err := s.mutate(ctx, partnerID, func(p *Partner) error {
		p.KYCBlocked = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, p, "kyc_blocked", nil)
	return p, nil
}

// Unblock clears the KYC block flag.
func (s *Service) Unblock(ctx context.Context, partnerID id.ID) (*Partner, error) {
	p, err := s.mutate(ctx, partnerID, func(p *Partner) error {
		p.KYCBlocked = false
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, p, "kyc_unblocked", nil)
	return p, nil
}

// SetBankVerified sets or clears bank verification. Granting it
// requires an IBAN on file that passes the checksum.
func (s *Service) SetBankVerified(ctx context.Context, partnerID id.ID, verified bool) (*Partner, error) {
	p, err := s.mutate(ctx, partnerID, func(p *Partner) error {
		if verified {
			if p.BankIBAN == "" {
				return apperror.NewValidation("bank verification requires an IBAN on file").
					WithDetail("field", "bankIban")
			}
			if !ValidIBAN(p.BankIBAN) {
				return apperror.NewValidation("IBAN fails checksum").
					WithDetail("field", "bankIban")
			}
		}
		p.BankVerified = verified
		p.BankVerifiedAt = stampIf(verified)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, p, verifyAction("bank", verified), nil)
	return p, nil
}

// SetCompanyVerified sets or clears company verification.
func (s *Service) SetCompanyVerified(ctx context.Context, partnerID id.ID, verified bool) (*Partner, error) {
	p, err := s.mutate(ctx, partnerID, func(p *Partner) error {
		p.CompanyVerified = verified
		p.CompanyVerifiedAt = stampIf(verified)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, p, verifyAction("company", verified), nil)
	return p, nil
}

// SetVATVerified sets or clears VAT verification.
func (s *Service) SetVATVerified(ctx context.Context, partnerID id.ID, verified bool) (*Partner, error) {
	p, err := s.mutate(ctx, partnerID, func(p *Partner) error {
		p.VATVerified = verified
		p.VATVerifiedAt = stampIf(verified)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, p, verifyAction("vat", verified), nil)
	return p, nil
}

// List retrieves partners with filtering.
func (s *Service) List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[*Partner], error) {
	return s.repo.List(ctx, filter)
}

// ComplianceProfileFor implements the compliance capability consumed by the
// ledger recompute. Unknown partners yield an unavailable profile rather
// than an error: the ledger maps that to not eligible.
func (s *Service) ComplianceProfileFor(ctx context.Context, partnerID id.ID) (*ComplianceProfile, error) {
	p, err := s.repo.GetByID(ctx, partnerID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return &ComplianceProfile{Available: false}, nil
		}
		return nil, err
	}
	return p.Profile(), nil
}

// mutate loads the partner under a row lock, applies fn and saves.
func (s *Service) mutate(ctx context.Context, partnerID id.ID, fn func(p *Partner) error) (*Partner, error) {
	var result *Partner
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetForUpdate(ctx, partnerID)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) record(ctx context.Context, p *Partner, action string, payload any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, "partner", p.ID.String(), action, payload); err != nil {
		logger.Warn(ctx, "audit record failed", "action", action, "error", err)
	}
}

func identifierConfig(prefix string) sequence.Config {
	// Identifiers are global and never reset: PC-00001, AP-00001.
	return sequence.Config{
		Prefix:      prefix,
		IncludeYear: false,
		PadWidth:    5,
		ResetPeriod: "never",
	}
}

func changedIdentifier(current, incoming *string) bool {
	if current == nil {
		// Not assigned yet; callers still may not set it themselves.
		return incoming != nil
	}
	return incoming == nil || *incoming != *current
}

func stampIf(verified bool) *time.Time {
	if !verified {
		return nil
	}
	now := time.Now().UTC()
	return &now
}

func verifyAction(kind string, verified bool) string {
	if verified {
		return kind + "_verified"
	}
	return kind + "_unverified"
}
