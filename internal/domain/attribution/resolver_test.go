package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partnerpay/internal/core/apperror"
	"partnerpay/internal/domain/partners"
)

type lookupStub struct {
	byCode map[string]*partners.Partner
}

func (s *lookupStub) GetByCode(ctx context.Context, code string) (*partners.Partner, error) {
	if p, ok := s.byCode[code]; ok {
		return p, nil
	}
	return nil, apperror.NewNotFound("partner", code)
}

type referralStub struct {
	latest map[string]*ReferralCapture
}

func (s *referralStub) Save(ctx context.Context, c *ReferralCapture) error {
	if s.latest == nil {
		s.latest = make(map[string]*ReferralCapture)
	}
	s.latest[c.VisitorKey] = c
	return nil
}

func (s *referralStub) LatestForVisitor(ctx context.Context, visitorKey string) (*ReferralCapture, error) {
	if c, ok := s.latest[visitorKey]; ok {
		return c, nil
	}
	return nil, apperror.NewNotFound("referral_capture", visitorKey)
}

func approvedPartner(code string) *partners.Partner {
	p := partners.NewPartner("org-1", "Acme")
	p.Role = partners.RoleAffiliate
	p.ApprovalState = partners.ApprovalApproved
	p.PartnerCode = &code
	return p
}

func TestResolveCode(t *testing.T) {
	ctx := context.Background()

	approved := approvedPartner("PC-00001")
	draft := partners.NewPartner("org-1", "Draft Co")

	r := NewResolver(&lookupStub{byCode: map[string]*partners.Partner{
		"PC-00001": approved,
		"PC-00002": draft,
	}}, nil)

	t.Run("approved partner resolves", func(t *testing.T) {
		p, err := r.ResolveCode(ctx, "PC-00001")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, approved.ID, p.ID)
	})

	t.Run("unapproved partner resolves to nothing", func(t *testing.T) {
		p, err := r.ResolveCode(ctx, "PC-00002")
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("unknown code resolves to nothing", func(t *testing.T) {
		p, err := r.ResolveCode(ctx, "PC-99999")
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("empty code resolves to nothing", func(t *testing.T) {
		p, err := r.ResolveCode(ctx, "")
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}

func TestResolveAmbient(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	approved := approvedPartner("PC-00001")
	referrals := &referralStub{}
	r := NewResolver(&lookupStub{byCode: map[string]*partners.Partner{
		"PC-00001": approved,
	}}, referrals)

	require.NoError(t, r.Capture(ctx, "visitor-a", "PC-00001"))

	t.Run("fresh capture resolves", func(t *testing.T) {
		p, err := r.ResolveAmbient(ctx, "visitor-a", now)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, approved.ID, p.ID)
	})

	t.Run("expired capture resolves to nothing", func(t *testing.T) {
		referrals.latest["visitor-a"].CapturedAt = now.Add(-ReferralWindow - time.Hour)
		p, err := r.ResolveAmbient(ctx, "visitor-a", now)
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("unknown visitor resolves to nothing", func(t *testing.T) {
		p, err := r.ResolveAmbient(ctx, "visitor-b", now)
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}
