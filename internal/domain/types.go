package domain

// Roles known to the marketplace.
const (
	RoleUser   = "user"
	RoleVendor = "vendor"
	RoleAdmin  = "admin"
)

// MaxPage bounds page so the row offset cannot overflow.
const MaxPage = 1_000_000

// Pagination carries paging params and totals.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// Offset returns the row offset for the current page.
func (p Pagination) Offset() int {
	if p.Page < 1 || p.Limit < 1 {
		return 0
	}
	return (min(p.Page, MaxPage) - 1) * p.Limit
}

// NewPagination clamps page/limit to sane values.
func NewPagination(page, limit int) Pagination {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return Pagination{Page: page, Limit: limit}
}

// RequestContext carries authenticated user info when available.
type RequestContext struct {
	UserID int64  `json:"userId"`
	Role   string `json:"role"`
}

func (r RequestContext) IsAdmin() bool  { return r.Role == RoleAdmin }
func (r RequestContext) IsVendor() bool { return r.Role == RoleVendor }
