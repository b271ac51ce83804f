// Package partners provides the partner directory with compliance profiles.
// A partner is an external party (affiliate, lead source, sales agent or
// reseller) that can be attributed to sales and paid commission.
package partners

import (
	"context"
	"regexp"
	"time"

	"partnerpay/internal/core/apperror"
	"partnerpay/internal/core/entity"
	"partnerpay/internal/core/types"
)

var emailRE = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Role defines what kind of partner this is.
type Role string

const (
	RoleAffiliate    Role = "affiliate"
	RoleLead         Role = "lead"
	RoleSalesAgent   Role = "sales_agent"
	RoleSalesPartner Role = "sales_partner"
)

// ApprovalState of the partner record.
type ApprovalState string

const (
	ApprovalDraft    ApprovalState = "draft"
	ApprovalApproved ApprovalState = "approved"
)

// KYCStatus of the partner's identity verification.
type KYCStatus string

const (
	KYCNotSubmitted KYCStatus = "not_submitted"
	KYCPending      KYCStatus = "pending"
	KYCVerified     KYCStatus = "verified"
	KYCComplete     KYCStatus = "complete"
	KYCRejected     KYCStatus = "rejected"
)

// Partner represents a partner with its compliance profile.
type Partner struct {
	entity.BaseDocument

	Name  string `db:"name" json:"name"`
	Email string `db:"email" json:"email,omitempty"`

	// OrganizationID is the owning organization scope
	OrganizationID string `db:"organization_id" json:"organizationId"`

	// Role must be set before approval
	Role Role `db:"role" json:"role,omitempty"`

	ApprovalState ApprovalState `db:"approval_state" json:"approvalState"`
	ApprovedAt    *time.Time    `db:"approved_at" json:"approvedAt,omitempty"`

	// PartnerCode and PartnerUID are assigned exactly once on approval,
	// globally unique, immutable thereafter. Reset to draft keeps them.
	PartnerCode *string `db:"partner_code" json:"partnerCode,omitempty"`
	PartnerUID  *string `db:"partner_uid" json:"partnerUid,omitempty"`

	KYCStatus     KYCStatus  `db:"kyc_status" json:"kycStatus"`
	KYCVerifiedAt *time.Time `db:"kyc_verified_at" json:"kycVerifiedAt,omitempty"`
	KYCBlocked    bool       `db:"kyc_blocked" json:"kycBlocked"`

	// BankIBAN must pass the ISO 13616 mod-97 check before bank
	// verification can be granted.
	BankIBAN string `db:"bank_iban" json:"bankIban,omitempty"`

	BankVerified      bool       `db:"bank_verified" json:"bankVerified"`
	BankVerifiedAt    *time.Time `db:"bank_verified_at" json:"bankVerifiedAt,omitempty"`
	CompanyVerified   bool       `db:"company_verified" json:"companyVerified"`
	CompanyVerifiedAt *time.Time `db:"company_verified_at" json:"companyVerifiedAt,omitempty"`
	VATVerified       bool       `db:"vat_verified" json:"vatVerified"`
	VATVerifiedAt     *time.Time `db:"vat_verified_at" json:"vatVerifiedAt,omitempty"`

	// CommissionRatePercent is a first-class column in [0, 100]
	CommissionRatePercent types.Rate `db:"commission_rate_percent" json:"commissionRatePercent"`
}

// NewPartner creates a new partner in draft state.
func NewPartner(organizationID, name string) *Partner {
	return &Partner{
		BaseDocument:   entity.NewBaseDocument(),
		Name:           name,
		OrganizationID: organizationID,
		ApprovalState:  ApprovalDraft,
		KYCStatus:      KYCNotSubmitted,
	}
}

// Validate implements entity.Validatable.
func (p *Partner) Validate(ctx context.Context) error {
	if p.Name == "" {
		return apperror.NewValidation("name is required").
			WithDetail("field", "name")
	}

	if p.OrganizationID == "" {
		return apperror.NewValidation("organization is required").
			WithDetail("field", "organizationId")
	}

	if p.Email != "" && !emailRE.MatchString(p.Email) {
		return apperror.NewValidation("invalid email format").
			WithDetail("field", "email")
	}

	if p.Role != "" && !isValidRole(p.Role) {
		return apperror.NewValidation("invalid partner role").
			WithDetail("field", "role").
			WithDetail("value", string(p.Role))
	}

	if !isValidKYCStatus(p.KYCStatus) {
		return apperror.NewValidation("invalid KYC status").
			WithDetail("field", "kycStatus").
			WithDetail("value", string(p.KYCStatus))
	}

	if p.BankIBAN != "" && !ValidIBAN(p.BankIBAN) {
		return apperror.NewValidation("IBAN fails checksum").
			WithDetail("field", "bankIban")
	}

	if !types.ValidRate(p.CommissionRatePercent) {
		return apperror.NewValidation("commission rate must be between 0 and 100").
			WithDetail("field", "commissionRatePercent").
			WithDetail("value", p.CommissionRatePercent.String())
	}

	return nil
}

// IsApproved reports whether the partner is approved.
func (p *Partner) IsApproved() bool {
	return p.ApprovalState == ApprovalApproved
}

// PayoutEligible is the derived compliance predicate gating payouts.
func (p *Partner) PayoutEligible() bool {
	kycOK := p.KYCStatus == KYCVerified || p.KYCStatus == KYCComplete
	return kycOK && !p.KYCBlocked && p.BankVerified
}

// ComplianceProfile is the snapshot handed to the ledger recompute.
// Available is false when the directory cannot produce a profile for the
// partner; the ledger treats that as not eligible.
type ComplianceProfile struct {
	Available    bool
	Eligible     bool
	KYCStatus    KYCStatus
	KYCBlocked   bool
	BankVerified bool
	Rate         types.Rate
}

// Profile builds the compliance snapshot for this partner.
func (p *Partner) Profile() *ComplianceProfile {
	return &ComplianceProfile{
		Available:    true,
		Eligible:     p.PayoutEligible(),
		KYCStatus:    p.KYCStatus,
		KYCBlocked:   p.KYCBlocked,
		BankVerified: p.BankVerified,
		Rate:         p.CommissionRatePercent,
	}
}

func isValidRole(r Role) bool {
	switch r {
	case RoleAffiliate, RoleLead, RoleSalesAgent, RoleSalesPartner:
		return true
	}
	return false
}

func isValidKYCStatus(s KYCStatus) bool {
	switch s {
	case KYCNotSubmitted, KYCPending, KYCVerified, KYCComplete, KYCRejected:
		return true
	}
	return false
}
