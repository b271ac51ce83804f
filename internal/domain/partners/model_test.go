package partners

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"partnerpay/internal/core/types"
)

func TestPayoutEligible(t *testing.T) {
	tests := []struct {
		name     string
		kyc      KYCStatus
		blocked  bool
		bank     bool
		eligible bool
	}{
		{"verified with bank", KYCVerified, false, true, true},
		{"complete with bank", KYCComplete, false, true, true},
		{"verified but blocked", KYCVerified, true, true, false},
		{"verified without bank", KYCVerified, false, false, false},
		{"pending", KYCPending, false, true, false},
		{"rejected", KYCRejected, false, true, false},
		{"not submitted", KYCNotSubmitted, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPartner("org-1", "Acme")
			p.KYCStatus = tt.kyc
			p.KYCBlocked = tt.blocked
			p.BankVerified = tt.bank

			assert.Equal(t, tt.eligible, p.PayoutEligible())
		})
	}
}

func TestPartnerValidate(t *testing.T) {
	ctx := context.Background()

	t.Run("valid partner", func(t *testing.T) {
		p := NewPartner("org-1", "Acme")
		p.Email = "partner@example.com"
		p.Role = RoleAffiliate
		p.CommissionRatePercent = types.NewRate(5)

		assert.NoError(t, p.Validate(ctx))
	})

	t.Run("missing name", func(t *testing.T) {
		p := NewPartner("org-1", "")
		assert.Error(t, p.Validate(ctx))
	})

	t.Run("missing organization", func(t *testing.T) {
		p := NewPartner("", "Acme")
		assert.Error(t, p.Validate(ctx))
	})

	t.Run("bad email", func(t *testing.T) {
		p := NewPartner("org-1", "Acme")
		p.Email = "not-an-email"
		assert.Error(t, p.Validate(ctx))
	})

	t.Run("rate above 100", func(t *testing.T) {
		p := NewPartner("org-1", "Acme")
		p.CommissionRatePercent = types.NewRate(100.5)
		assert.Error(t, p.Validate(ctx))
	})

	t.Run("negative rate", func(t *testing.T) {
		p := NewPartner("org-1", "Acme")
		p.CommissionRatePercent = types.NewRate(-1)
		assert.Error(t, p.Validate(ctx))
	})

	t.Run("zero rate is allowed", func(t *testing.T) {
		p := NewPartner("org-1", "Acme")
		assert.NoError(t, p.Validate(ctx))
	})

	t.Run("bad role", func(t *testing.T) {
		p := NewPartner("org-1", "Acme")
		p.Role = "reseller"
		assert.Error(t, p.Validate(ctx))
	})
}

func TestProfileSnapshot(t *testing.T) {
	p := NewPartner("org-1", "Acme")
	p.KYCStatus = KYCVerified
	p.BankVerified = true
	p.CommissionRatePercent = types.NewRate(7.5)

	profile := p.Profile()
	assert.True(t, profile.Available)
	assert.True(t, profile.Eligible)
	assert.True(t, profile.Rate.Equal(types.NewRate(7.5)))
}
