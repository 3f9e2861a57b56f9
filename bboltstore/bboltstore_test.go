package bboltstore_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypergopher/astroglossary"
	"github.com/hypergopher/astroglossary/bboltstore"
)

func setupStore(t *testing.T) *bboltstore.BBoltStore {
	t.Helper()

	store := bboltstore.New(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() {
		_ = store.Close()
	})

	// Created oldest first, so the newest ("3") is ordered first
	for _, post := range []*astroglossary.Post{
		{ID: "1", Title: "First Post", Type: "type1", Subject: "s1", Source: "src1", Date: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "2", Title: "Second Post", Type: "type2", Subject: "s2", Source: "src2", Date: time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)},
		{ID: "3", Title: "Third Post", Type: "type1", Subject: "s3", Source: "src3", Date: time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)},
	} {
		_, err := store.Create(context.Background(), post)
		require.NoError(t, err)
	}

	return store
}

func ids(posts []*astroglossary.Post) []string {
	result := make([]string, 0, len(posts))
	for _, p := range posts {
		result = append(result, p.ID)
	}
	return result
}

func TestBBoltStore_Search(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	cases := []struct {
		name          string
		filter        astroglossary.FilterOptions
		expectedIDs   []string
		expectedTotal int
	}{
		{
			name:          "Everything, newest first",
			filter:        astroglossary.FilterOptions{Limit: astroglossary.NoLimit},
			expectedIDs:   []string{"3", "2", "1"},
			expectedTotal: 3,
		},
		{
			name:          "Search ignores case",
			filter:        astroglossary.FilterOptions{Search: "SECOND"},
			expectedIDs:   []string{"2"},
			expectedTotal: 1,
		},
		{
			name:          "Search matches inside the title",
			filter:        astroglossary.FilterOptions{Search: "ird po"},
			expectedIDs:   []string{"3"},
			expectedTotal: 1,
		},
		{
			name:          "Type filter",
			filter:        astroglossary.FilterOptions{}.WithTypes("type1"),
			expectedIDs:   []string{"3", "1"},
			expectedTotal: 2,
		},
		{
			name:          "No types checked",
			filter:        astroglossary.FilterOptions{}.WithTypes(),
			expectedIDs:   []string{},
			expectedTotal: 0,
		},
		{
			name:          "Second page of size one",
			filter:        astroglossary.FilterOptions{Offset: 1, Limit: 1},
			expectedIDs:   []string{"2"},
			expectedTotal: 3,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			posts, total, err := store.Search(ctx, tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.expectedTotal, total)
			assert.Equal(t, tc.expectedIDs, ids(posts))
		})
	}
}

func TestBBoltStore_SearchIsLiteral(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, &astroglossary.Post{
		ID: "4", Title: "Why? Stars* (and.more)", Type: "type2", Subject: "s4", Source: "src4",
		Date: time.Date(2023, 1, 4, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	cases := []struct {
		search      string
		expectedIDs []string
	}{
		{search: "?", expectedIDs: []string{"4"}},
		{search: "*", expectedIDs: []string{"4"}},
		{search: "and.more", expectedIDs: []string{"4"}},
		{search: "(and", expectedIDs: []string{"4"}},
		{search: "t*p", expectedIDs: []string{}},
		{search: "st?", expectedIDs: []string{}},
		{search: "f.rst", expectedIDs: []string{}},
		{search: " ", expectedIDs: []string{"4", "3", "2", "1"}},
	}

	for _, tc := range cases {
		t.Run(tc.search, func(t *testing.T) {
			posts, total, err := store.Search(ctx, astroglossary.FilterOptions{Search: tc.search})
			require.NoError(t, err)
			assert.Equal(t, len(tc.expectedIDs), total)
			assert.Equal(t, tc.expectedIDs, ids(posts))

			memory := astroglossary.NewMemoryPostStore()
			for _, id := range []string{"4", "3", "2", "1"} {
				p, err := store.Get(ctx, id)
				require.NoError(t, err)
				_, err = memory.Create(ctx, p)
				require.NoError(t, err)
			}
			_, memoryTotal, err := memory.Search(ctx, astroglossary.FilterOptions{Search: tc.search})
			require.NoError(t, err)
			assert.Equal(t, memoryTotal, total, "bbolt and memory stores agree")
		})
	}
}

func TestBBoltStore_CRUD(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, &astroglossary.Post{ID: "1", Title: "Dup", Type: "type1"})
	assert.ErrorIs(t, err, astroglossary.ErrPostExists)

	post, err := store.Get(ctx, "1")
	require.NoError(t, err)
	post.Title = "Renamed"
	post.Type = "type2"
	require.NoError(t, store.Update(ctx, post))

	// The updated post keeps its position and is searchable by its new title
	posts, _, err := store.Search(ctx, astroglossary.FilterOptions{Search: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(posts))

	counts, err := store.TypeCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"type1": 1, "type2": 2}, counts)

	require.NoError(t, store.Delete(ctx, "2"))
	assert.ErrorIs(t, store.Delete(ctx, "2"), astroglossary.ErrPostNotFound)

	_, err = store.Get(ctx, "2")
	assert.ErrorIs(t, err, astroglossary.ErrPostNotFound)

	posts, total, err := store.Search(ctx, astroglossary.FilterOptions{Limit: astroglossary.NoLimit})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{"3", "1"}, ids(posts))

	require.NoError(t, store.Clear(ctx))
	_, total, err = store.Search(ctx, astroglossary.FilterOptions{})
	require.NoError(t, err)
	assert.Zero(t, total)
}
