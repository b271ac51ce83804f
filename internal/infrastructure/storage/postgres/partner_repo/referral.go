package partner_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"partnerpay/internal/core/apperror"
	"partnerpay/internal/domain/attribution"
	"partnerpay/internal/infrastructure/storage/postgres"
)

const referralTable = "referral_captures"

// ReferralRepo implements attribution.ReferralRepository.
type ReferralRepo struct {
	txm  *postgres.TxManager
	cols []string
}

var _ attribution.ReferralRepository = (*ReferralRepo)(nil)

// NewReferralRepo creates a new referral capture repository.
func NewReferralRepo(txm *postgres.TxManager) *ReferralRepo {
	return &ReferralRepo{
		txm:  txm,
		cols: postgres.ExtractDBColumns[attribution.ReferralCapture](),
	}
}

func (r *ReferralRepo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// Save inserts a new capture. Captures are append-only; the newest one per
// visitor wins at resolution time.
func (r *ReferralRepo) Save(ctx context.Context, c *attribution.ReferralCapture) error {
	data := postgres.StructToMap(c)
	filtered := make(map[string]any, len(r.cols))
	for _, col := range r.cols {
		if val, ok := data[col]; ok {
			filtered[col] = val
		}
	}

	q := r.builder().
		Insert(referralTable).
		SetMap(filtered)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert referral capture: %w", err)
	}
	return nil
}

// LatestForVisitor returns the most recent capture for the visitor.
func (r *ReferralRepo) LatestForVisitor(ctx context.Context, visitorKey string) (*attribution.ReferralCapture, error) {
	q := r.builder().
		Select(r.cols...).
		From(referralTable).
		Where(squirrel.Eq{"visitor_key": visitorKey}).
		OrderBy("captured_at DESC").
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	capture := &attribution.ReferralCapture{}
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), capture, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("referral_capture", visitorKey)
		}
		return nil, fmt.Errorf("latest capture: %w", err)
	}
	return capture, nil
}
