package models

// Pagination describes paging metadata returned with list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// NewPagination builds pagination metadata from the requested page/size and
// the total row count.
func NewPagination(page, pageSize, total int) *Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	pages := total / pageSize
	if total%pageSize != 0 {
		pages++
	}
	return &Pagination{Page: page, PageSize: pageSize, TotalItems: total, TotalPages: pages}
}
