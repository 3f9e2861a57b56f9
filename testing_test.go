package astroglossary_test

import (
	"time"

	"github.com/hypergopher/astroglossary"
)

var testTypes = astroglossary.Types{"type1", "type2", "type3"}

func testPosts() []*astroglossary.Post {
	return []*astroglossary.Post{
		{
			ID:      "1",
			Title:   "First Post",
			Source:  "source1",
			Type:    "type1",
			Date:    time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
			Subject: "subject1",
		},
		{
			ID:      "2",
			Title:   "Second Post",
			Source:  "source2",
			Type:    "type2",
			Date:    time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
			Subject: "subject2",
		},
		{
			ID:      "3",
			Title:   "Third Post",
			Source:  "source3",
			Type:    "type1",
			Date:    time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC),
			Subject: "subject3",
		},
	}
}
