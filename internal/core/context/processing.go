package context

import (
	"context"
)

type paidProcessingKey struct{}

// WithPaidProcessing marks the context as being inside the paid-invoice
// pipeline. The pipeline writes commission snapshots and bill linkage back
// onto the invoice that triggered it; the flag stops those write-backs from
// re-entering the pipeline.
func WithPaidProcessing(ctx context.Context) context.Context {
	return context.WithValue(ctx, paidProcessingKey{}, true)
}

// IsPaidProcessing reports whether the paid-invoice pipeline is already
// running in this call context.
func IsPaidProcessing(ctx context.Context) bool {
	v, _ := ctx.Value(paidProcessingKey{}).(bool)
	return v
}
