package astroglossary

import "context"

// PostStore persists posts. New posts are ordered before older ones.
type PostStore interface {
	// Init initializes the post store, such as creating the necessary tables or indexes.
	Init(ctx context.Context) error
	// Clear removes all posts from the store.
	Clear(ctx context.Context) error
	// Close closes the post store.
	Close() error
	// Create stores a new post in front of the existing ones. It returns ErrPostExists on a duplicate ID.
	Create(ctx context.Context, post *Post) (*Post, error)
	// Update replaces an existing post, keeping its position. It returns ErrPostNotFound if absent.
	Update(ctx context.Context, post *Post) error
	// Delete deletes a post by ID. It returns ErrPostNotFound if absent.
	Delete(ctx context.Context, id string) error
	// Get retrieves a post by ID.
	Get(ctx context.Context, id string) (*Post, error)
	// Search returns the requested page of matching posts and the total number of matches.
	Search(ctx context.Context, opts FilterOptions) ([]*Post, int, error)
	// TypeCounts returns the number of posts per type.
	TypeCounts(ctx context.Context) (map[string]int, error)
}
