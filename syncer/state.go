package syncer

import (
	"github.com/hypergopher/astroglossary"
)

// Cursor tracks how far into the filtered result set the collection has been loaded.
type Cursor struct {
	Total  int `json:"total"`  // Total is the number of posts matching the filter on the server.
	Offset int `json:"offset"` // Offset is where the next page starts.
	Limit  int `json:"limit"`  // Limit is the page size.
}

// State is the client's view of the gallery. It is a value: every reducer returns a new State
// and leaves the receiver untouched.
type State struct {
	Posts      []*astroglossary.Post      `json:"posts"`
	Types      astroglossary.Types        `json:"types"`
	Checked    astroglossary.CheckedTypes `json:"checked"`
	Search     string                     `json:"search"`
	PageSize   int                        `json:"pageSize"`
	Cursor     Cursor                     `json:"cursor"`
	Online     bool                       `json:"online"`
	ServerUp   bool                       `json:"serverUp"`
	Loading    bool                       `json:"loading"`
	Generation uint64                     `json:"generation"`
}

// NewState returns an empty, connected state with the given page size.
func NewState(pageSize int) State {
	if pageSize <= 0 {
		pageSize = astroglossary.DefaultPageSize
	}
	return State{
		Posts:    []*astroglossary.Post{},
		Types:    astroglossary.Types{},
		Checked:  astroglossary.CheckedTypes{},
		PageSize: pageSize,
		Cursor:   Cursor{Limit: pageSize},
		Online:   true,
		ServerUp: true,
	}
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	s.Posts = clonePosts(s.Posts)
	s.Types = s.Types.Clone()
	s.Checked = s.Checked.Clone()
	return s
}

// Reset clears the collection, rewinds the cursor and starts a new generation. Responses to
// requests made in an earlier generation are discarded.
func (s State) Reset() State {
	s.Posts = []*astroglossary.Post{}
	s.Cursor = Cursor{Limit: s.PageSize}
	s.Loading = false
	s.Generation++
	return s
}

// WithSearch sets the search term and resets the collection.
func (s State) WithSearch(term string) State {
	s.Search = term
	return s.Reset()
}

// WithCheckedTypes replaces the checked types and resets the collection.
func (s State) WithCheckedTypes(checked astroglossary.CheckedTypes) State {
	s.Checked = checked.Clone()
	return s.Reset()
}

// WithToggledType flips a single type and resets the collection.
func (s State) WithToggledType(t string) State {
	checked := s.Checked.Clone()
	checked[t] = !checked[t]
	s.Checked = checked
	return s.Reset()
}

// WithPageSize changes the page size and resets the collection.
func (s State) WithPageSize(size int) State {
	s.PageSize = size
	return s.Reset()
}

// WithTypes replaces the known types. Types seen for the first time are checked.
func (s State) WithTypes(types astroglossary.Types) State {
	s.Types = types.Clone()
	s.Checked = s.Checked.Merge(types)
	return s
}

// WithLoading marks a fetch as started.
func (s State) WithLoading() State {
	s.Loading = true
	return s
}

// WithPage appends a fetched page and advances the cursor. Posts already in the collection are skipped.
func (s State) WithPage(page astroglossary.Paginator) State {
	seen := make(map[string]struct{}, len(s.Posts))
	posts := make([]*astroglossary.Post, 0, len(s.Posts)+len(page.Posts))
	for _, p := range s.Posts {
		seen[p.ID] = struct{}{}
		posts = append(posts, p)
	}
	for _, p := range page.Posts {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		posts = append(posts, p.Clone())
	}

	s.Posts = posts
	s.Cursor = Cursor{
		Total:  page.Total,
		Offset: s.Cursor.Offset + len(page.Posts),
		Limit:  s.PageSize,
	}
	s.Loading = false
	return s
}

// WithCachedPosts replaces the collection wholesale, as when falling back to the local cache.
func (s State) WithCachedPosts(posts []*astroglossary.Post) State {
	s.Posts = clonePosts(posts)
	s.Cursor = Cursor{Total: len(posts), Offset: len(posts), Limit: s.PageSize}
	s.Loading = false
	return s
}

// WithConnectivity sets whether the network is available and whether the service answered its last probe.
func (s State) WithConnectivity(online, serverUp bool) State {
	s.Online = online
	s.ServerUp = serverUp
	return s
}

// Connected reports whether writes can go straight to the service.
func (s State) Connected() bool {
	return s.Online && s.ServerUp
}

// HasMore reports whether the server holds matching posts that are not loaded yet.
func (s State) HasMore() bool {
	return len(s.Posts) < s.Cursor.Total
}

// CanLoadMore reports whether the next page should be requested.
func (s State) CanLoadMore() bool {
	return s.HasMore() && s.Connected() && !s.Loading
}

// Filter returns the query for the next page. When every known type is checked the type filter is left off.
func (s State) Filter() astroglossary.FilterOptions {
	filter := astroglossary.FilterOptions{
		Search: s.Search,
		Offset: s.Cursor.Offset,
		Limit:  s.PageSize,
	}

	if len(s.Types) == 0 {
		return filter
	}

	selected := s.Checked.Selected(s.Types)
	if len(selected) == len(s.Types) {
		return filter
	}
	return filter.WithTypes(selected...)
}

// Visible returns the posts in the collection that pass the search term and the checked types.
func (s State) Visible() []*astroglossary.Post {
	visible := make([]*astroglossary.Post, 0, len(s.Posts))
	for _, p := range s.Posts {
		if len(s.Types) > 0 && !s.Checked[p.Type] {
			continue
		}
		if !p.MatchesSearch(s.Search) {
			continue
		}
		visible = append(visible, p.Clone())
	}
	return visible
}

// TypeCounts counts the posts in the collection by type. Every known type is present.
func (s State) TypeCounts() map[string]int {
	counts := make(map[string]int, len(s.Types))
	for _, t := range s.Types {
		counts[t] = 0
	}
	for _, p := range s.Posts {
		counts[p.Type]++
	}
	return counts
}

// StatusMessage describes a degraded connection, or returns an empty string when connected.
func (s State) StatusMessage() string {
	switch {
	case !s.Online:
		return "Offline Mode: No Internet"
	case !s.ServerUp:
		return "Server Down: Changes will sync later"
	}
	return ""
}

func clonePosts(posts []*astroglossary.Post) []*astroglossary.Post {
	out := make([]*astroglossary.Post, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.Clone())
	}
	return out
}
