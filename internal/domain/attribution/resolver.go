package attribution

import (
	"context"
	"time"

	"partnerpay/internal/core/apperror"
	"partnerpay/internal/domain/partners"
	"partnerpay/pkg/logger"
)

// PartnerLookup is the slice of the partner directory the resolver needs.
type PartnerLookup interface {
	GetByCode(ctx context.Context, code string) (*partners.Partner, error)
}

// Resolver turns referral signals into attributed partners.
type Resolver struct {
	partners  PartnerLookup
	referrals ReferralRepository
}

// NewResolver creates a resolver. The referral repository may be nil when
// ambient resolution is not used (e.g. in tests of explicit attribution).
func NewResolver(partners PartnerLookup, referrals ReferralRepository) *Resolver {
	return &Resolver{partners: partners, referrals: referrals}
}

// ResolveCode resolves a referral code to an approved partner.
// Unknown or unapproved codes resolve to nil, never to an error: the caller
// clears the attribution field instead of storing garbage.
func (r *Resolver) ResolveCode(ctx context.Context, code string) (*partners.Partner, error) {
	if code == "" {
		return nil, nil
	}

	p, err := r.partners.GetByCode(ctx, code)
	if err != nil {
		if apperror.IsNotFound(err) {
			logger.Debug(ctx, "referral code did not resolve", "code", code)
			return nil, nil
		}
		return nil, err
	}

	if !p.IsApproved() {
		logger.Debug(ctx, "referral code belongs to unapproved partner",
			"code", code, "partner_id", p.ID)
		return nil, nil
	}

	return p, nil
}

// Capture stores a referral code seen for a visitor. The code is kept raw;
// whether it resolves is decided when it is actually used.
func (r *Resolver) Capture(ctx context.Context, visitorKey, code string) error {
	if r.referrals == nil || visitorKey == "" || code == "" {
		return nil
	}
	return r.referrals.Save(ctx, NewReferralCapture(visitorKey, code))
}

// ResolveAmbient resolves the visitor's most recent captured code, honoring
// the validity window. Expired or missing captures resolve to nil.
func (r *Resolver) ResolveAmbient(ctx context.Context, visitorKey string, now time.Time) (*partners.Partner, error) {
	if r.referrals == nil || visitorKey == "" {
		return nil, nil
	}

	capture, err := r.referrals.LatestForVisitor(ctx, visitorKey)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	if !capture.ValidAt(now) {
		return nil, nil
	}

	return r.ResolveCode(ctx, capture.Code)
}
