package importer

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/hypergopher/astroglossary"
)

// Seed is the content of a seed file: the gallery's types and users and an initial set of posts.
type Seed struct {
	Types astroglossary.Types  `yaml:"types" toml:"types"`
	Users []astroglossary.User `yaml:"users" toml:"users"`
	Posts []PostMeta           `yaml:"posts" toml:"posts"`
}

// LoadSeed reads a .yaml, .yml or .toml seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed Seed
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&seed); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &seed); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported seed file extension %q", ext)
	}

	return &seed, nil
}

// GalleryPosts returns the seed posts as gallery posts. A post without an ID gets one from its
// title and position in the file.
func (s *Seed) GalleryPosts() []*astroglossary.Post {
	posts := make([]*astroglossary.Post, 0, len(s.Posts))
	for i, p := range s.Posts {
		post := &astroglossary.Post{
			ID:      strings.TrimSpace(p.ID),
			Title:   strings.TrimSpace(p.Title),
			Type:    strings.TrimSpace(p.Type),
			Subject: strings.TrimSpace(p.Subject),
			Source:  strings.TrimSpace(p.Source),
			Date:    p.Date.UTC(),
			UserID:  strings.TrimSpace(p.UserID),
		}
		if post.ID == "" {
			post.ID = astroglossary.StablePostID(post.Title, fmt.Sprintf("seed:%d", i))
		}
		posts = append(posts, post)
	}
	return posts
}
