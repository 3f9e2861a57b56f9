package sqlitestore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypergopher/astroglossary"
	"github.com/hypergopher/astroglossary/sqlitestore"
)

func setupTestEnvironment(t *testing.T) *sqlitestore.SQLiteStore {
	t.Helper()

	db, err := sqlitestore.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "Failed to create SQLite db")

	store := sqlitestore.NewSQLiteStore(db, "posts")
	require.NoError(t, store.Init(context.Background()), "Failed to init store")

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func createTestPosts(t *testing.T, store *sqlitestore.SQLiteStore) {
	t.Helper()

	for _, post := range []*astroglossary.Post{
		{ID: "1", Title: "First Post", Type: "type1", Subject: "s1", Source: "src1", Date: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "2", Title: "Second Post", Type: "type2", Subject: "s2", Source: "src2", Date: time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), UserID: "u1"},
		{ID: "3", Title: "Third_Post", Type: "type1", Subject: "s3", Source: "src3", Date: time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)},
	} {
		_, err := store.Create(context.Background(), post)
		require.NoError(t, err)
	}
}

func TestSQLiteStore_Search(t *testing.T) {
	store := setupTestEnvironment(t)
	createTestPosts(t, store)
	ctx := context.Background()

	cases := []struct {
		name          string
		filter        astroglossary.FilterOptions
		expectedIDs   []string
		expectedTotal int
	}{
		{name: "Everything", filter: astroglossary.FilterOptions{Limit: astroglossary.NoLimit}, expectedIDs: []string{"3", "2", "1"}, expectedTotal: 3},
		{name: "Search", filter: astroglossary.FilterOptions{Search: "second"}, expectedIDs: []string{"2"}, expectedTotal: 1},
		{name: "Underscore is literal", filter: astroglossary.FilterOptions{Search: "d_p"}, expectedIDs: []string{"3"}, expectedTotal: 1},
		{name: "Type filter", filter: astroglossary.FilterOptions{}.WithTypes("type1"), expectedIDs: []string{"3", "1"}, expectedTotal: 2},
		{name: "No types", filter: astroglossary.FilterOptions{}.WithTypes(), expectedIDs: []string{}, expectedTotal: 0},
		{name: "Paged", filter: astroglossary.FilterOptions{Offset: 1, Limit: 1}, expectedIDs: []string{"2"}, expectedTotal: 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			posts, total, err := store.Search(ctx, tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.expectedTotal, total)

			ids := make([]string, 0, len(posts))
			for _, p := range posts {
				ids = append(ids, p.ID)
			}
			assert.Equal(t, tc.expectedIDs, ids)
		})
	}
}

func TestSQLiteStore_CRUD(t *testing.T) {
	store := setupTestEnvironment(t)
	createTestPosts(t, store)
	ctx := context.Background()

	_, err := store.Create(ctx, &astroglossary.Post{ID: "1", Title: "Dup"})
	assert.ErrorIs(t, err, astroglossary.ErrPostExists)

	post, err := store.Get(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "u1", post.UserID)
	assert.True(t, post.Date.Equal(time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)))

	post.Title = "Second Post Revised"
	require.NoError(t, store.Update(ctx, post))
	post, err = store.Get(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "Second Post Revised", post.Title)

	require.NoError(t, store.Delete(ctx, "2"))
	assert.ErrorIs(t, store.Delete(ctx, "2"), astroglossary.ErrPostNotFound)
	assert.ErrorIs(t, store.Update(ctx, post), astroglossary.ErrPostNotFound)

	_, err = store.Get(ctx, "2")
	assert.ErrorIs(t, err, astroglossary.ErrPostNotFound)

	counts, err := store.TypeCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"type1": 2}, counts)

	require.NoError(t, store.Clear(ctx))
	_, total, err := store.Search(ctx, astroglossary.FilterOptions{})
	require.NoError(t, err)
	assert.Zero(t, total)
}
