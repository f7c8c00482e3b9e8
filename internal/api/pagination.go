package api

import (
	"math"
	"net/http"
	"strconv"
)

const (
	defaultPage = 1
	// maxOffset keeps (page-1)*page_size well inside int range on every platform
	maxOffset = math.MaxInt32
)

// PageLimits bounds the page size of one listing.
type PageLimits struct {
	Default int
	Max     int
}

// PaginationParams holds parsed pagination query parameters.
type PaginationParams struct {
	Page     int
	PageSize int
}

// ParsePagination extracts page and page_size from the request. Invalid
// values fall back to the defaults; page_size is capped at limits.Max no
// matter what the client asks for. page is clamped so its offset can never
// overflow; a clamped page simply lies past the last row.
func ParsePagination(r *http.Request, limits PageLimits) PaginationParams {
	p := PaginationParams{
		Page:     defaultPage,
		PageSize: limits.Default,
	}

	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Page = n
		}
	}

	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.PageSize = n
		}
	}
	if limits.Max > 0 && p.PageSize > limits.Max {
		p.PageSize = limits.Max
	}
	if p.PageSize > 0 && p.Page > maxOffset/p.PageSize+1 {
		p.Page = maxOffset/p.PageSize + 1
	}

	return p
}

// Offset returns the database offset for the current page.
func (p PaginationParams) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// TotalPages calculates the total number of pages for a given total count.
func (p PaginationParams) TotalPages(total int64) int {
	if p.PageSize <= 0 {
		return 0
	}
	pages := int(total) / p.PageSize
	if int(total)%p.PageSize > 0 {
		pages++
	}
	return pages
}

// Meta builds the pagination block of a list response.
func (p PaginationParams) Meta(total int64) PaginationMeta {
	return PaginationMeta{
		Page:       p.Page,
		PageSize:   p.PageSize,
		Total:      total,
		TotalPages: p.TotalPages(total),
	}
}
