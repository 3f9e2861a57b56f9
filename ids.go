package astroglossary

import (
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// NewPostID generates a readable, unique post ID from the title, such as "andromeda-rising-1a2b3c4d".
func NewPostID(title string) string {
	return postID(title, uuid.New())
}

// StablePostID is like NewPostID but derives the suffix from key, so the same title and key
// always give the same ID. The importer keys on the file path.
func StablePostID(title, key string) string {
	return postID(title, uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)))
}

func postID(title string, id uuid.UUID) string {
	suffix := strings.ReplaceAll(id.String(), "-", "")[:8]

	base := slug.Make(title)
	if base == "" {
		return suffix
	}

	// Keep IDs short enough for URLs
	if len(base) > 48 {
		base = strings.TrimRight(base[:48], "-")
	}

	return base + "-" + suffix
}
