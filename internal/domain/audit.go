package domain

import (
	"context"
)

// AuditRecorder writes change-audit records (who/what/when) for sensitive
// transitions: approvals, attribution locks, KYC changes, batch actions.
// Recording is best-effort at call sites; implementations must not panic.
type AuditRecorder interface {
	Record(ctx context.Context, entityType string, entityID string, action string, payload any) error
}

// NopAudit is an AuditRecorder that discards everything. Used in tests.
type NopAudit struct{}

func (NopAudit) Record(ctx context.Context, entityType, entityID, action string, payload any) error {
	return nil
}
