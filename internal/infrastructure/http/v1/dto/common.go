// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"partnerpay/internal/core/apperror"
	"partnerpay/internal/core/id"
	"partnerpay/internal/domain"
)

// --- List query ---

// ListQuery contains common list parameters bound from the query string.
type ListQuery struct {
	Search         string   `form:"search"`
	IDs            []string `form:"ids"`
	IncludeDeleted bool     `form:"includeDeleted"`
	OrganizationID string   `form:"organizationId"`
	State          string   `form:"state"`
	OrderBy        string   `form:"orderBy"`
	Limit          int      `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset         int      `form:"offset" binding:"omitempty,min=0"`
}

// ToFilter converts the query to a domain filter.
func (q *ListQuery) ToFilter() (domain.ListFilter, error) {
	filter := domain.DefaultListFilter()
	filter.Search = q.Search
	filter.IncludeDeleted = q.IncludeDeleted
	filter.OrganizationID = q.OrganizationID
	filter.State = q.State
	if q.OrderBy != "" {
		filter.OrderBy = q.OrderBy
	}
	if q.Limit > 0 {
		filter.Limit = q.Limit
	}
	filter.Offset = q.Offset

	for _, raw := range q.IDs {
		parsed, err := id.Parse(raw)
		if err != nil {
			return filter, apperror.NewValidation("invalid id in ids filter").
				WithDetail("value", raw)
		}
		filter.IDs = append(filter.IDs, parsed)
	}

	return filter, nil
}

// --- List Response ---

// ListResponse wraps list results with pagination.
type ListResponse struct {
	Items      any   `json:"items"`
	TotalCount int64 `json:"totalCount"`
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
}

// FromListResult builds a ListResponse from a domain result.
func FromListResult[T any](r domain.ListResult[T]) ListResponse {
	return ListResponse{
		Items:      r.Items,
		TotalCount: r.TotalCount,
		Limit:      r.Limit,
		Offset:     r.Offset,
	}
}

// --- ID Response ---

// IDResponse for create operations.
type IDResponse struct {
	ID string `json:"id"`
}

// NewIDResponse creates ID response.
func NewIDResponse(i id.ID) IDResponse {
	return IDResponse{ID: i.String()}
}

// --- Success Response ---

// SuccessResponse for operations without data.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
