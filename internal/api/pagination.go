package api

import (
	"net/http"
	"net/url"
	"strconv"
)

const (
	defaultPerPage = 50
	maxPerPage     = 200

	// DefaultLimit is used by the in-memory list endpoints when ?limit= is absent
	DefaultLimit = 100
	// MaxLimit caps ?limit=
	MaxLimit = 1000
)

// PaginationParams is a page request against the audit store
type PaginationParams struct {
	Page    int
	PerPage int
}

// ParsePagination reads ?page= and ?per_page=. Missing or invalid values fall back to
// page 1 with 50 items; per_page is capped at 200.
func ParsePagination(r *http.Request) PaginationParams {
	q := r.URL.Query()
	return PaginationParams{
		Page:    positiveParam(q, "page", 1, 0),
		PerPage: positiveParam(q, "per_page", defaultPerPage, maxPerPage),
	}
}

// ParseLimit reads ?limit= for the in-memory list endpoints
func ParseLimit(r *http.Request) int {
	return positiveParam(r.URL.Query(), "limit", DefaultLimit, MaxLimit)
}

// positiveParam parses a positive integer query value. max <= 0 means uncapped.
func positiveParam(q url.Values, name string, def, max int) int {
	n, err := strconv.Atoi(q.Get(name))
	if err != nil || n <= 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

// Offset is the number of records before this page
func (p PaginationParams) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// TotalPages is the number of pages needed for total records
func (p PaginationParams) TotalPages(total int64) int {
	if p.PerPage <= 0 || total <= 0 {
		return 0
	}
	per := int64(p.PerPage)
	return int((total + per - 1) / per)
}

// NewPaginatedResponse builds the envelope for one page of results
func NewPaginatedResponse(data interface{}, p PaginationParams, total int64) PaginatedResponse {
	return PaginatedResponse{
		Data: data,
		Pagination: PaginationMeta{
			Page:       p.Page,
			PerPage:    p.PerPage,
			Total:      total,
			TotalPages: p.TotalPages(total),
		},
	}
}
