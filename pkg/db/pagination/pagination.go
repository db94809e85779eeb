package pagination

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Page is the page/limit pair accepted by list endpoints. Page is 1-based.
type Page struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

type PageInfo struct {
	Current int   `json:"current"`
	Pages   int   `json:"pages"`
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
}

// Normalize clamps the page to at least 1 and the limit to [1, max]. A
// non-positive max means MaxLimit.
func (p Page) Normalize(max int) Page {
	if max <= 0 {
		max = MaxLimit
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > max {
		p.Limit = max
	}
	return p
}

func (p Page) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

func BuildPageInfo(p Page, total int64) PageInfo {
	pages := 0
	if p.Limit > 0 {
		pages = int((total + int64(p.Limit) - 1) / int64(p.Limit))
	}
	return PageInfo{
		Current: p.Page,
		Pages:   pages,
		Total:   total,
		Limit:   p.Limit,
	}
}
