// Package importer seeds a gallery from a directory of markdown files, and from YAML or TOML seed files.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/hypergopher/astroglossary"
)

// DefaultPattern selects every markdown file below the import directory.
const DefaultPattern = "**/*.md"

// DefaultDebounce is how long Watch waits for a burst of file events to settle.
const DefaultDebounce = 250 * time.Millisecond

var ErrMissingDir = errors.New("import directory is required")

// Sink receives imported posts. *astroglossary.Gallery implements it.
type Sink interface {
	Import(ctx context.Context, posts ...*astroglossary.Post) (astroglossary.ImportReport, error)
}

// Importer reads post files from a directory.
type Importer struct {
	sink     Sink
	dir      string
	pattern  string
	debounce time.Duration
	parse    MarkdownParserFunc
	logger   *slog.Logger
	onImport func(astroglossary.ImportReport)
}

// Options is a struct for configuring a new Importer.
type Options struct {
	Sink     Sink               // Sink receives the posts. Required.
	Dir      string             // Dir is the directory to import from. Required.
	Pattern  string             // Pattern is a doublestar glob relative to Dir. Default is DefaultPattern.
	Debounce time.Duration      // Debounce is used by Watch. Default is DefaultDebounce.
	Parser   MarkdownParserFunc // Parser converts file contents. Default is DefaultMarkdownParser().
	Logger   *slog.Logger       // Logger is the logger used by the Importer. Default is a debug logger to stderr.

	// OnImport, if set, is called with the report of every batch that reached the sink, from Run and from Watch.
	OnImport func(astroglossary.ImportReport)
}

// New creates an Importer.
func New(opts Options) (*Importer, error) {
	if opts.Dir == "" {
		return nil, ErrMissingDir
	}

	if opts.Pattern == "" {
		opts.Pattern = DefaultPattern
	}

	if !doublestar.ValidatePattern(opts.Pattern) {
		return nil, fmt.Errorf("invalid import pattern %q: %w", opts.Pattern, doublestar.ErrBadPattern)
	}

	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	if opts.Parser == nil {
		opts.Parser = DefaultMarkdownParser()
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	return &Importer{
		sink:     opts.Sink,
		dir:      opts.Dir,
		pattern:  opts.Pattern,
		debounce: opts.Debounce,
		parse:    opts.Parser,
		logger:   opts.Logger,
		onImport: opts.OnImport,
	}, nil
}

// Files returns the paths, relative to the import directory, of the files matching the pattern.
func (im *Importer) Files() ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(im.dir), im.pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to glob %s: %w", im.pattern, err)
	}
	return matches, nil
}

// ReadFile parses a single file. rel is relative to the import directory. A post without an ID
// gets one derived from its title and path, so re-importing the file updates the same post.
func (im *Importer) ReadFile(rel string) (*astroglossary.Post, error) {
	content, err := os.ReadFile(filepath.Join(im.dir, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	post, err := im.parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s to post: %w", rel, err)
	}

	if post.ID == "" {
		post.ID = astroglossary.StablePostID(post.Title, filepath.ToSlash(rel))
	}

	return post, nil
}

// Run imports every matching file. Files that cannot be parsed are logged and counted as skipped.
func (im *Importer) Run(ctx context.Context) (astroglossary.ImportReport, error) {
	files, err := im.Files()
	if err != nil {
		return astroglossary.ImportReport{}, err
	}

	return im.importFiles(ctx, files)
}

// Watch imports files as they are created or changed until ctx is done.
func (im *Importer) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := im.addWatches(watcher, im.dir); err != nil {
		return err
	}

	im.logger.Info("watching for post changes", slog.String("dir", im.dir), slog.String("pattern", im.pattern))

	pending := map[string]struct{}{}
	timer := time.NewTimer(im.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := im.addWatches(watcher, event.Name); err != nil {
						im.logger.Warn("failed to watch directory", slog.String("dir", event.Name), slog.String("error", err.Error()))
					}
					continue
				}
			}

			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}

			rel, ok := im.match(event.Name)
			if !ok {
				continue
			}
			pending[rel] = struct{}{}
			timer.Reset(im.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			im.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			files := make([]string, 0, len(pending))
			for rel := range pending {
				files = append(files, rel)
			}
			pending = map[string]struct{}{}

			report, err := im.importFiles(ctx, files)
			if err != nil {
				im.logger.Error("import failed", slog.String("error", err.Error()))
				continue
			}
			im.logger.Info("imported changed posts",
				slog.Int("created", report.Created),
				slog.Int("updated", report.Updated),
				slog.Int("skipped", report.Skipped))
		}
	}
}

func (im *Importer) importFiles(ctx context.Context, files []string) (astroglossary.ImportReport, error) {
	var report astroglossary.ImportReport

	posts := make([]*astroglossary.Post, 0, len(files))
	for _, rel := range files {
		post, err := im.ReadFile(rel)
		if err != nil {
			im.logger.Warn("skipping file", slog.String("file", rel), slog.String("error", err.Error()))
			report.Skipped++
			continue
		}
		posts = append(posts, post)
	}

	imported, err := im.sink.Import(ctx, posts...)
	report.Created += imported.Created
	report.Updated += imported.Updated
	report.Skipped += imported.Skipped
	if im.onImport != nil {
		im.onImport(report)
	}
	if err != nil {
		return report, fmt.Errorf("failed to import posts: %w", err)
	}

	return report, nil
}

// match returns the path of name relative to the import directory if it matches the pattern.
func (im *Importer) match(name string) (string, bool) {
	rel, err := filepath.Rel(im.dir, name)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)

	ok, err := doublestar.Match(im.pattern, rel)
	return rel, err == nil && ok
}

func (im *Importer) addWatches(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
