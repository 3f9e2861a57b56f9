package astroglossary

// Paginator holds one page of posts together with the information needed to request the next one.
type Paginator struct {
	Posts       []*Post `json:"posts"`
	Total       int     `json:"total"`
	Offset      int     `json:"offset"`
	Limit       int     `json:"limit"`
	Page        int     `json:"page"`
	TotalPages  int     `json:"totalPages"`
	HasNext     bool    `json:"hasNext"`
	HasPrev     bool    `json:"hasPrev"`
	HasPosts    bool    `json:"hasPosts"`
	NextOffset  int     `json:"nextOffset"`
	CurrentSize int     `json:"currentSize"`
}

// NewPaginator returns a Paginator for the given page of posts.
func NewPaginator(posts []*Post, total, offset, limit int) Paginator {
	if posts == nil {
		posts = []*Post{}
	}

	pageSize := limit
	if pageSize <= 0 {
		pageSize = max(total, 1)
	}

	totalPages := (total + pageSize - 1) / pageSize
	currentPage := offset/pageSize + 1
	nextOffset := offset + len(posts)

	return Paginator{
		Posts:       posts,
		Total:       total,
		Offset:      offset,
		Limit:       limit,
		Page:        currentPage,
		TotalPages:  totalPages,
		HasNext:     nextOffset < total,
		HasPrev:     offset > 0,
		HasPosts:    len(posts) > 0,
		NextOffset:  nextOffset,
		CurrentSize: len(posts),
	}
}

// OffsetForPage converts a 1-based page number into an offset.
func OffsetForPage(page, limit int) int {
	if page < 1 || limit <= 0 {
		return 0
	}
	return (page - 1) * limit
}
