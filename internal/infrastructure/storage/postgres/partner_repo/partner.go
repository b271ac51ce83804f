// Package partner_repo provides PostgreSQL implementations for the partner
// directory and referral captures.
package partner_repo

import (
	"context"
	"errors"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"

	"partnerpay/internal/core/apperror"
	"partnerpay/internal/domain/partners"
	"partnerpay/internal/infrastructure/storage/postgres"
)

const partnerTable = "partners"

// PartnerRepo implements partners.Repository.
type PartnerRepo struct {
	*postgres.BaseRepo[*partners.Partner]
}

var _ partners.Repository = (*PartnerRepo)(nil)

// NewPartnerRepo creates a new partner repository.
func NewPartnerRepo(txm *postgres.TxManager) *PartnerRepo {
	return &PartnerRepo{
		BaseRepo: postgres.NewBaseRepo(
			txm,
			partnerTable,
			postgres.ExtractDBColumns[partners.Partner](),
			[]string{"name", "email", "partner_code"},
			func() *partners.Partner { return &partners.Partner{} },
		),
	}
}

// Update wraps the base update. A unique violation on partner_code or
// partner_uid means the sequence handed out a value that already exists,
// which only happens when the sequence table was reset or misconfigured.
func (r *PartnerRepo) Update(ctx context.Context, p *partners.Partner) error {
	err := r.BaseRepo.Update(ctx, p)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if strings.Contains(pgErr.ConstraintName, "partner_code") {
			return apperror.NewSequenceFailure("partner_code", err)
		}
		if strings.Contains(pgErr.ConstraintName, "partner_uid") {
			return apperror.NewSequenceFailure("partner_uid", err)
		}
	}
	return err
}

// GetByCode retrieves a partner by its assigned partner code.
func (r *PartnerRepo) GetByCode(ctx context.Context, code string) (*partners.Partner, error) {
	q := r.BaseSelect().
		Where(squirrel.Eq{"partner_code": code}).
		Where(squirrel.Eq{"deletion_mark": false}).
		Limit(1)

	p, err := r.FindOne(ctx, q, code)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewNotFound("partner", code)
		}
		return nil, err
	}
	return p, nil
}
