package astroglossary

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryPostStore implements PostStore using in-memory storage
type MemoryPostStore struct {
	posts []*Post // newest first
	ids   map[string]struct{}
	mu    sync.RWMutex
}

// NewMemoryPostStore creates a new MemoryPostStore
func NewMemoryPostStore(posts ...*Post) *MemoryPostStore {
	m := &MemoryPostStore{
		ids: make(map[string]struct{}),
	}
	for _, post := range posts {
		m.posts = append(m.posts, post.Clone())
		m.ids[post.ID] = struct{}{}
	}
	return m
}

// Init initializes the post store
func (m *MemoryPostStore) Init(ctx context.Context) error {
	return nil
}

// Clear clears all data from the post store
func (m *MemoryPostStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.posts = nil
	m.ids = make(map[string]struct{})
	return nil
}

// Close closes the post store
func (m *MemoryPostStore) Close() error {
	return nil
}

// Create adds a new post to the front of the store
func (m *MemoryPostStore) Create(ctx context.Context, post *Post) (*Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.ids[post.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrPostExists, post.ID)
	}

	stored := post.Clone()
	m.posts = slices.Insert(m.posts, 0, stored)
	m.ids[post.ID] = struct{}{}
	return stored.Clone(), nil
}

// Update replaces an existing post in the store
func (m *MemoryPostStore) Update(ctx context.Context, post *Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(post.ID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrPostNotFound, post.ID)
	}

	m.posts[i] = post.Clone()
	return nil
}

// Delete removes a post from the store
func (m *MemoryPostStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrPostNotFound, id)
	}

	m.posts = slices.Delete(m.posts, i, i+1)
	delete(m.ids, id)
	return nil
}

// Get retrieves a post from the store
func (m *MemoryPostStore) Get(ctx context.Context, id string) (*Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := m.indexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrPostNotFound, id)
	}

	return m.posts[i].Clone(), nil
}

// Search searches for posts based on the provided FilterOptions
func (m *MemoryPostStore) Search(ctx context.Context, options FilterOptions) ([]*Post, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	options = options.Normalize()

	var filtered []*Post
	for _, post := range m.posts {
		if options.Matches(post) {
			filtered = append(filtered, post)
		}
	}

	totalCount := len(filtered)
	start, end := options.Bounds(totalCount)

	results := make([]*Post, 0, end-start)
	for _, post := range filtered[start:end] {
		results = append(results, post.Clone())
	}

	return results, totalCount, nil
}

// TypeCounts returns the number of posts per type
func (m *MemoryPostStore) TypeCounts(ctx context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, post := range m.posts {
		counts[post.Type]++
	}
	return counts, nil
}

func (m *MemoryPostStore) indexOf(id string) int {
	if _, exists := m.ids[id]; !exists {
		return -1
	}
	return slices.IndexFunc(m.posts, func(p *Post) bool { return p.ID == id })
}
