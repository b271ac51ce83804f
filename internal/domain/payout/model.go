// Package payout provides the payout batch orchestrator: claiming payable
// ledger entries, generating one vendor bill per partner, and reconciling
// payment confirmations back onto the ledger.
package payout

import (
	"context"
	"time"

	"partnerpay/internal/core/apperror"
	"partnerpay/internal/core/entity"
)

// State of the batch lifecycle: draft → generated → done.
type State string

const (
	StateDraft     State = "draft"
	StateGenerated State = "generated"
	StateDone      State = "done"
)

// Batch groups payable ledger entries for one organization into vendor
// bills. Entry membership lives on the entries themselves (payout_batch_id);
// the generated bills are reachable through the claimed entries.
type Batch struct {
	entity.Document

	State State `db:"state" json:"state"`

	GeneratedAt *time.Time `db:"generated_at" json:"generatedAt,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt,omitempty"`
}

// NewBatch creates a draft batch for the organization.
func NewBatch(organizationID string) *Batch {
	return &Batch{
		Document: entity.NewDocument(organizationID),
		State:    StateDraft,
	}
}

// Validate implements entity.Validatable.
func (b *Batch) Validate(ctx context.Context) error {
	if err := b.Document.Validate(ctx); err != nil {
		return err
	}

	switch b.State {
	case StateDraft, StateGenerated, StateDone:
	default:
		return apperror.NewValidation("invalid batch state").
			WithDetail("field", "state").
			WithDetail("value", string(b.State))
	}

	return nil
}

// requireState fails with a batch-state error unless the batch is in want.
func (b *Batch) requireState(want State) error {
	if b.State != want {
		return apperror.NewBusinessRule(apperror.CodeBatchState,
			"operation not allowed in current batch state").
			WithDetail("batch_id", b.ID.String()).
			WithDetail("state", string(b.State)).
			WithDetail("required", string(want))
	}
	return nil
}
