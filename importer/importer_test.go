package importer_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypergopher/astroglossary"
	"github.com/hypergopher/astroglossary/importer"
)

const andromeda = `---
id: andromeda
title: Andromeda
type: galaxy
source: https://example.com/m31.jpg
date: 2024-01-02T00:00:00Z
user_id: u1
---

# The **Andromeda** Galaxy

Our nearest large
neighbour, [M31](https://example.com).
`

const orion = `+++
title = "Orion Nebula"
type = "nebula"
subject = "M42"
source = "https://example.com/m42.jpg"
date = 2024-02-03T00:00:00Z
+++

Ignored because the subject is set.
`

const badType = `---
id: pluto
title: Pluto
type: dwarf
subject: Pluto
source: https://example.com/pluto.jpg
date: 2024-03-01T00:00:00Z
---
`

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newGallery(t *testing.T) *astroglossary.Gallery {
	t.Helper()
	g, err := astroglossary.NewGallery(context.Background(), astroglossary.Options{Logger: discard()})
	require.NoError(t, err)
	return g
}

func TestMarkdownToPost(t *testing.T) {
	parse := importer.DefaultMarkdownParser()

	post, err := parse([]byte(andromeda))
	require.NoError(t, err)
	assert.Equal(t, "andromeda", post.ID)
	assert.Equal(t, "Andromeda", post.Title)
	assert.Equal(t, "galaxy", post.Type)
	assert.Equal(t, "The Andromeda Galaxy Our nearest large neighbour, M31.", post.Subject)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), post.Date)
	assert.Equal(t, "u1", post.UserID)

	post, err = parse([]byte(orion))
	require.NoError(t, err)
	assert.Empty(t, post.ID)
	assert.Equal(t, "M42", post.Subject)
	assert.Equal(t, time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC), post.Date)

	_, err = parse([]byte("# just a heading\n"))
	assert.ErrorIs(t, err, importer.ErrNoFrontmatter)
}

func TestImporter_Run(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "galaxies/andromeda.md", andromeda)
	writeFile(t, dir, "nebulae/deep/orion.md", orion)
	writeFile(t, dir, "pluto.md", badType)
	writeFile(t, dir, "notes.txt", "not markdown")
	writeFile(t, dir, "broken.md", "no frontmatter")

	g := newGallery(t)
	var reports []astroglossary.ImportReport
	im, err := importer.New(importer.Options{Sink: g, Dir: dir, Logger: discard(), OnImport: func(r astroglossary.ImportReport) {
		reports = append(reports, r)
	}})
	require.NoError(t, err)

	files, err := im.Files()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"galaxies/andromeda.md", "nebulae/deep/orion.md", "pluto.md", "broken.md"}, files)

	report, err := im.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, astroglossary.ImportReport{Created: 2, Skipped: 2}, report)
	assert.Equal(t, []astroglossary.ImportReport{report}, reports)

	all, err := g.All(ctx)
	require.NoError(t, err)
	require.Len(t, all.Posts, 2)

	orionID := astroglossary.StablePostID("Orion Nebula", "nebulae/deep/orion.md")
	post, err := g.Get(ctx, orionID)
	require.NoError(t, err)
	assert.Equal(t, "nebula", post.Type)

	// importing again updates instead of duplicating
	report, err = im.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Updated)
	assert.Zero(t, report.Created)
}

func TestImporter_Pattern(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "galaxies/andromeda.md", andromeda)
	writeFile(t, dir, "nebulae/orion.md", orion)

	im, err := importer.New(importer.Options{Sink: newGallery(t), Dir: dir, Pattern: "galaxies/*.md", Logger: discard()})
	require.NoError(t, err)

	files, err := im.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"galaxies/andromeda.md"}, files)

	_, err = importer.New(importer.Options{Dir: dir, Pattern: "[", Logger: discard()})
	assert.Error(t, err)

	_, err = importer.New(importer.Options{})
	assert.ErrorIs(t, err, importer.ErrMissingDir)
}

func TestImporter_Watch(t *testing.T) {
	dir := t.TempDir()
	g := newGallery(t)

	imported := make(chan astroglossary.ImportReport, 10)
	im, err := importer.New(importer.Options{
		Sink:     g,
		Dir:      dir,
		Debounce: 20 * time.Millisecond,
		Logger:   discard(),
		OnImport: func(r astroglossary.ImportReport) {
			select {
			case imported <- r:
			default:
			}
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- im.Watch(ctx) }()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "andromeda.md", andromeda)

	assert.Eventually(t, func() bool {
		_, err := g.Get(context.Background(), "andromeda")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	// the write may land in more than one batch
	created := 0
	timeout := time.After(5 * time.Second)
	for created == 0 {
		select {
		case report := <-imported:
			created += report.Created
		case <-timeout:
			t.Fatal("watch import was not reported")
		}
	}
	assert.Equal(t, 1, created)

	cancel()
	require.NoError(t, <-done)
}

func TestLoadSeed(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, dir, "seed.yaml", `
types: [galaxy, star]
users:
  - id: u1
    username: stargazer
    token: secret
posts:
  - id: sirius
    title: Sirius
    type: star
    subject: Alpha Canis Majoris
    source: https://example.com/sirius.jpg
    date: 2024-04-01T00:00:00Z
  - title: Vega
    type: star
    subject: Alpha Lyrae
    source: https://example.com/vega.jpg
    date: 2024-04-02T00:00:00Z
`)

	writeFile(t, dir, "seed.toml", `
types = ["galaxy", "star"]

[[users]]
id = "u1"
username = "stargazer"
token = "secret"

[[posts]]
id = "sirius"
title = "Sirius"
type = "star"
subject = "Alpha Canis Majoris"
source = "https://example.com/sirius.jpg"
date = 2024-04-01T00:00:00Z
`)

	for _, name := range []string{"seed.yaml", "seed.toml"} {
		t.Run(name, func(t *testing.T) {
			seed, err := importer.LoadSeed(filepath.Join(dir, name))
			require.NoError(t, err)

			assert.Equal(t, astroglossary.Types{"galaxy", "star"}, seed.Types)
			require.Len(t, seed.Users, 1)
			assert.Equal(t, "secret", seed.Users[0].Token)

			posts := seed.GalleryPosts()
			require.NotEmpty(t, posts)
			assert.Equal(t, "sirius", posts[0].ID)
			assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), posts[0].Date)
			require.NoError(t, posts[0].Validate(seed.Types))
		})
	}

	seed, err := importer.LoadSeed(filepath.Join(dir, "seed.yaml"))
	require.NoError(t, err)
	posts := seed.GalleryPosts()
	require.Len(t, posts, 2)
	assert.Regexp(t, `^vega-[0-9a-f]{8}$`, posts[1].ID)

	writeFile(t, dir, "seed.json", `{}`)
	_, err = importer.LoadSeed(filepath.Join(dir, "seed.json"))
	assert.Error(t, err)
}
