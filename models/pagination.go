package models

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

type Page struct {
	Number int `json:"page"`
	Size   int `json:"page_size"`
}

func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Size
}

type PageInfo struct {
	Page        int   `json:"page"`
	PageSize    int   `json:"page_size"`
	Total       int64 `json:"total"`
	HasNextPage bool  `json:"has_next_page"`
}

func newPageInfo(p Page, total int64) PageInfo {
	p = p.Normalize()
	return PageInfo{
		Page:        p.Number,
		PageSize:    p.Size,
		Total:       total,
		HasNextPage: int64(p.Number*p.Size) < total,
	}
}
