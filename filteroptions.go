package astroglossary

const (
	// DefaultPageSize is the number of posts returned when no limit is given.
	DefaultPageSize = 8
	// NoLimit disables pagination in FilterOptions.
	NoLimit = -1
)

// PageSizes are the page sizes offered to users.
var PageSizes = []int{4, 6, 8}

// FilterOptions contains the options to filter posts.
type FilterOptions struct {
	Search      string   // Search is matched against the title, ignoring case.
	Types       []string // Types are the types to include. Only used when FilterTypes is true.
	FilterTypes bool     // FilterTypes enables the type filter. With no Types, nothing matches.
	Offset      int      // Offset is the number of matching posts to skip
	Limit       int      // Limit is the page size. Zero means DefaultPageSize, NoLimit returns everything.
}

// WithTypes returns a copy of the options filtered to the given types.
func (f FilterOptions) WithTypes(types ...string) FilterOptions {
	f.Types = types
	f.FilterTypes = true
	return f
}

// Normalize applies the default limit and clamps the offset.
func (f FilterOptions) Normalize() FilterOptions {
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Limit == 0 || f.Limit < NoLimit {
		f.Limit = DefaultPageSize
	}
	return f
}

// Matches returns true if the post passes the search and type filters.
func (f FilterOptions) Matches(post *Post) bool {
	if f.FilterTypes && !Types(f.Types).Has(post.Type) {
		return false
	}
	return post.MatchesSearch(f.Search)
}

// Bounds returns the slice bounds of the requested page within total matches.
func (f FilterOptions) Bounds(total int) (start, end int) {
	start = f.Offset
	if start > total {
		start = total
	}
	if f.Limit == NoLimit {
		return start, total
	}
	end = start + f.Limit
	if end > total {
		end = total
	}
	return start, end
}

// CheckedTypes maps a type name to whether posts of that type are shown.
type CheckedTypes map[string]bool

// AllChecked returns a map with every type checked.
func AllChecked(types Types) CheckedTypes {
	checked := make(CheckedTypes, len(types))
	for _, t := range types {
		checked[t] = true
	}
	return checked
}

// Merge returns a copy of the map with any type not yet present added as checked.
func (c CheckedTypes) Merge(types Types) CheckedTypes {
	merged := make(CheckedTypes, len(types))
	for k, v := range c {
		merged[k] = v
	}
	for _, t := range types {
		if _, ok := merged[t]; !ok {
			merged[t] = true
		}
	}
	return merged
}

// Selected returns the checked types in the order of types.
func (c CheckedTypes) Selected(types Types) []string {
	selected := make([]string, 0, len(types))
	for _, t := range types {
		if c[t] {
			selected = append(selected, t)
		}
	}
	return selected
}

// Clone returns a copy of the map.
func (c CheckedTypes) Clone() CheckedTypes {
	return c.Merge(nil)
}
