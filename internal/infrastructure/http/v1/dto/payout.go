package dto

// CreateBatchRequest for creating payout batches.
type CreateBatchRequest struct {
	OrganizationID string `json:"organizationId" binding:"required"`
}
