// Package attribution resolves referral signals to approved partners and
// owns the ambient referral capture used as an attribution fallback.
package attribution

import (
	"context"
	"time"

	"partnerpay/internal/core/entity"
)

// ReferralWindow is how long a captured referral code remains valid.
const ReferralWindow = 90 * 24 * time.Hour

// ReferralCapture records a referral code seen for a visitor (e.g. from a
// landing link), consulted later when a document is created without an
// explicit attribution.
type ReferralCapture struct {
	entity.BaseEntity

	// VisitorKey identifies the visitor/session the code was captured for
	VisitorKey string `db:"visitor_key" json:"visitorKey"`

	// Code is the raw referral code; resolved at use time, not capture time
	Code string `db:"code" json:"code"`

	CapturedAt time.Time `db:"captured_at" json:"capturedAt"`
}

// NewReferralCapture creates a capture stamped now.
func NewReferralCapture(visitorKey, code string) *ReferralCapture {
	return &ReferralCapture{
		BaseEntity: entity.NewBaseEntity(),
		VisitorKey: visitorKey,
		Code:       code,
		CapturedAt: time.Now().UTC(),
	}
}

// ValidAt reports whether the capture is still inside the referral window.
func (c *ReferralCapture) ValidAt(now time.Time) bool {
	return now.Sub(c.CapturedAt) <= ReferralWindow
}

// ReferralRepository persists referral captures.
type ReferralRepository interface {
	Save(ctx context.Context, c *ReferralCapture) error

	// LatestForVisitor returns the most recent capture for the visitor,
	// or a not-found error.
	LatestForVisitor(ctx context.Context, visitorKey string) (*ReferralCapture, error)
}
