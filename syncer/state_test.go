package syncer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypergopher/astroglossary"
	"github.com/hypergopher/astroglossary/syncer"
)

func post(id, title, typ string) *astroglossary.Post {
	return &astroglossary.Post{
		ID: id, Title: title, Type: typ, Subject: "subject " + id, Source: "source" + id,
		Date: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func postIDs(posts []*astroglossary.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func TestState_WithPage(t *testing.T) {
	s := syncer.NewState(2)

	s = s.WithLoading().WithPage(astroglossary.NewPaginator([]*astroglossary.Post{post("1", "A", "t1"), post("2", "B", "t1")}, 5, 0, 2))
	assert.Equal(t, []string{"1", "2"}, postIDs(s.Posts))
	assert.Equal(t, syncer.Cursor{Total: 5, Offset: 2, Limit: 2}, s.Cursor)
	assert.False(t, s.Loading)
	assert.True(t, s.HasMore())

	// a post already loaded is not added twice
	s = s.WithPage(astroglossary.NewPaginator([]*astroglossary.Post{post("2", "B", "t1"), post("3", "C", "t2")}, 5, 2, 2))
	assert.Equal(t, []string{"1", "2", "3"}, postIDs(s.Posts))
	assert.Equal(t, 4, s.Cursor.Offset)
}

func TestState_ReducersDoNotMutate(t *testing.T) {
	s := syncer.NewState(4).WithTypes(astroglossary.Types{"t1", "t2"})
	s = s.WithPage(astroglossary.NewPaginator([]*astroglossary.Post{post("1", "A", "t1")}, 1, 0, 4))

	toggled := s.WithToggledType("t1")
	assert.True(t, s.Checked["t1"])
	assert.False(t, toggled.Checked["t1"])
	assert.Len(t, s.Posts, 1)
	assert.Empty(t, toggled.Posts)
	assert.Equal(t, s.Generation+1, toggled.Generation)
}

func TestState_ResetOnFilterChanges(t *testing.T) {
	base := syncer.NewState(4).WithTypes(astroglossary.Types{"t1"})
	base = base.WithPage(astroglossary.NewPaginator([]*astroglossary.Post{post("1", "A", "t1")}, 3, 0, 4))

	cases := []struct {
		name string
		fn   func(syncer.State) syncer.State
	}{
		{"search", func(s syncer.State) syncer.State { return s.WithSearch("x") }},
		{"checked", func(s syncer.State) syncer.State { return s.WithCheckedTypes(astroglossary.CheckedTypes{}) }},
		{"toggle", func(s syncer.State) syncer.State { return s.WithToggledType("t1") }},
		{"page size", func(s syncer.State) syncer.State { return s.WithPageSize(6) }},
		{"reset", syncer.State.Reset},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.fn(base)
			assert.Empty(t, s.Posts)
			assert.Zero(t, s.Cursor.Offset)
			assert.Zero(t, s.Cursor.Total)
			assert.Equal(t, s.PageSize, s.Cursor.Limit)
			assert.Greater(t, s.Generation, base.Generation)
		})
	}
}

func TestState_WithTypesKeepsUnchecked(t *testing.T) {
	s := syncer.NewState(0).WithTypes(astroglossary.Types{"t1", "t2"})
	assert.Equal(t, astroglossary.DefaultPageSize, s.PageSize)
	assert.Equal(t, astroglossary.CheckedTypes{"t1": true, "t2": true}, s.Checked)

	s = s.WithToggledType("t2").WithTypes(astroglossary.Types{"t1", "t2", "t3"})
	assert.Equal(t, astroglossary.CheckedTypes{"t1": true, "t2": false, "t3": true}, s.Checked)
}

func TestState_FilterAndVisible(t *testing.T) {
	s := syncer.NewState(4).WithTypes(astroglossary.Types{"t1", "t2"})
	s = s.WithCachedPosts([]*astroglossary.Post{
		post("1", "Andromeda", "t1"),
		post("2", "Orion", "t2"),
		post("3", "Antennae", "t1"),
	})

	filter := s.Filter()
	assert.False(t, filter.FilterTypes)
	assert.Equal(t, 3, filter.Offset)
	assert.Len(t, s.Visible(), 3)

	s = s.WithSearch("AN")
	assert.Equal(t, "AN", s.Filter().Search)

	s = s.WithCachedPosts([]*astroglossary.Post{post("1", "Andromeda", "t1"), post("2", "Orion", "t2"), post("3", "Antennae", "t1")})
	assert.Equal(t, []string{"1", "3"}, postIDs(s.Visible()))

	only := s.WithCheckedTypes(astroglossary.CheckedTypes{"t1": false, "t2": true})
	filter = only.Filter()
	assert.True(t, filter.FilterTypes)
	assert.Equal(t, []string{"t2"}, filter.Types)

	none := s.WithCheckedTypes(astroglossary.CheckedTypes{"t1": false, "t2": false})
	filter = none.Filter()
	require.True(t, filter.FilterTypes)
	assert.Empty(t, filter.Types)

	none = none.WithCachedPosts(s.Posts)
	assert.Empty(t, none.Visible())
}

func TestState_TypeCountsAndStatus(t *testing.T) {
	s := syncer.NewState(4).WithTypes(astroglossary.Types{"t1", "t2", "t3"})
	s = s.WithCachedPosts([]*astroglossary.Post{post("1", "A", "t1"), post("2", "B", "t1"), post("3", "C", "t2")})
	assert.Equal(t, map[string]int{"t1": 2, "t2": 1, "t3": 0}, s.TypeCounts())

	assert.Empty(t, s.StatusMessage())
	assert.True(t, s.Connected())
	assert.Equal(t, "Server Down: Changes will sync later", s.WithConnectivity(true, false).StatusMessage())
	assert.Equal(t, "Offline Mode: No Internet", s.WithConnectivity(false, false).StatusMessage())
	assert.False(t, s.WithConnectivity(true, false).CanLoadMore())
}
