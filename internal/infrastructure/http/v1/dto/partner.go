package dto

import (
	"partnerpay/internal/core/types"
	"partnerpay/internal/domain/partners"
)

// CreatePartnerRequest for creating partners.
type CreatePartnerRequest struct {
	OrganizationID        string      `json:"organizationId" binding:"required"`
	Name                  string      `json:"name" binding:"required"`
	Email                 string      `json:"email,omitempty"`
	Role                  string      `json:"role,omitempty"`
	BankIBAN              string      `json:"bankIban,omitempty"`
	CommissionRatePercent *types.Rate `json:"commissionRatePercent,omitempty"`
}

// ToPartner builds a draft partner from the request.
func (r *CreatePartnerRequest) ToPartner() *partners.Partner {
	p := partners.NewPartner(r.OrganizationID, r.Name)
	p.Email = r.Email
	p.Role = partners.Role(r.Role)
	p.BankIBAN = r.BankIBAN
	if r.CommissionRatePercent != nil {
		p.CommissionRatePercent = *r.CommissionRatePercent
	}
	return p
}

// UpdatePartnerRequest for updating partners. Partner code and UID are
// owned by the approval flow and are not accepted here.
type UpdatePartnerRequest struct {
	Name                  *string     `json:"name,omitempty"`
	Email                 *string     `json:"email,omitempty"`
	Role                  *string     `json:"role,omitempty"`
	BankIBAN              *string     `json:"bankIban,omitempty"`
	CommissionRatePercent *types.Rate `json:"commissionRatePercent,omitempty"`
	Version               int         `json:"version" binding:"required,min=1"`
}

// Apply copies the request onto the partner.
func (r *UpdatePartnerRequest) Apply(p *partners.Partner) {
	if r.Name != nil {
		p.Name = *r.Name
	}
	if r.Email != nil {
		p.Email = *r.Email
	}
	if r.Role != nil {
		p.Role = partners.Role(*r.Role)
	}
	if r.BankIBAN != nil {
		p.BankIBAN = *r.BankIBAN
	}
	if r.CommissionRatePercent != nil {
		p.CommissionRatePercent = *r.CommissionRatePercent
	}
	p.Version = r.Version
}

// SetKYCStatusRequest for KYC transitions.
type SetKYCStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// SetVerifiedRequest sets or clears a verification flag.
type SetVerifiedRequest struct {
	Verified bool `json:"verified"`
}

// CaptureReferralRequest records a referral code seen for a visitor.
type CaptureReferralRequest struct {
	VisitorKey string `json:"visitorKey" binding:"required"`
	Code       string `json:"code" binding:"required"`
}
