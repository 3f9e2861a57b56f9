package astroglossary

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var titlePattern = regexp.MustCompile(`^[A-Za-z]`)

// Post represents a single gallery entry: an image plus its metadata
type Post struct {
	ID      string    `json:"id"`                // ID is the unique identifier of the post
	Title   string    `json:"title"`             // Title must start with a letter
	Type    string    `json:"type"`              // Type is one of the gallery's Types
	Subject string    `json:"subject"`           // Subject is the object pictured (e.g. "Milky Way")
	Source  string    `json:"source"`            // Source is the image URL. It never changes after creation.
	Date    time.Time `json:"date"`              // Date is the creation date. It never changes after creation.
	UserID  string    `json:"user_id,omitempty"` // UserID is the owner of the post, if known
}

// PostWithUser is a Post decorated with the owner's username
type PostWithUser struct {
	Post
	Username string `json:"username,omitempty"`
}

// Clone returns a copy of the post
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// HasDate returns true if the post has a creation date
func (p *Post) HasDate() bool {
	return !p.Date.IsZero()
}

// MatchesSearch returns true if the title contains term, ignoring case. An empty term matches everything.
func (p *Post) MatchesSearch(term string) bool {
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(p.Title), strings.ToLower(term))
}

// ValidateRequired checks that every field except the owner is present.
func (p *Post) ValidateRequired() error {
	if strings.TrimSpace(p.ID) == "" ||
		strings.TrimSpace(p.Title) == "" ||
		strings.TrimSpace(p.Type) == "" ||
		strings.TrimSpace(p.Subject) == "" ||
		strings.TrimSpace(p.Source) == "" ||
		!p.HasDate() {
		return ErrMissingField
	}
	return nil
}

// Validate checks that every field is present, the type is known, and the title starts with a letter.
func (p *Post) Validate(types Types) error {
	if err := p.ValidateRequired(); err != nil {
		return err
	}

	if !types.Has(p.Type) {
		return fmt.Errorf("%w: '%s'", ErrInvalidType, p.Type)
	}

	if !ValidTitle(p.Title) {
		return fmt.Errorf("%w: '%s'", ErrInvalidTitle, p.Title)
	}

	return nil
}

// ValidateUpdate validates updated as a replacement for existing. Source and date are immutable.
func ValidateUpdate(existing, updated *Post, types Types) error {
	if err := updated.Validate(types); err != nil {
		return err
	}

	if updated.Source != existing.Source {
		return ErrSourceImmutable
	}

	if !updated.Date.Equal(existing.Date) {
		return ErrDateImmutable
	}

	return nil
}

// ValidTitle returns true if the title starts with an ASCII letter
func ValidTitle(title string) bool {
	return titlePattern.MatchString(title)
}

// Serialize serializes the post to a byte slice
func (p *Post) Serialize() ([]byte, error) {
	return json.Marshal(p)
}

// Deserialize deserializes the byte slice to a post
func Deserialize(data []byte) (*Post, error) {
	var post Post
	err := json.Unmarshal(data, &post)
	if err != nil {
		return nil, err
	}
	return &post, nil
}
