package model

// PageInfo describes one page of an ordered listing. Pages are 1-based; an
// out-of-range page is an empty page, not an error.
type PageInfo struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalCount int64 `json:"total_count"`
	TotalPages int   `json:"total_pages"`
}

// NewPageInfo clamps page/pageSize to sane values and derives the page count
// from the total. pageSize falls back to defaultSize when non-positive.
func NewPageInfo(page, pageSize int, total int64, defaultSize int) PageInfo {
	if pageSize <= 0 {
		pageSize = defaultSize
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return PageInfo{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: totalPages,
	}
}

// Offset returns the row offset of the page start.
func (p PageInfo) Offset() int {
	return (p.Page - 1) * p.PageSize
}
