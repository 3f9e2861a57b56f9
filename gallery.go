package astroglossary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Gallery is the main entry point for the post service. It validates posts against the
// configured types before handing them to the PostStore.
type Gallery struct {
	store  PostStore
	types  Types
	users  *Users
	logger *slog.Logger
}

// Options is a struct for configuring a new Gallery instance.
type Options struct {
	Store  PostStore    // Store persists the posts. Default is a MemoryPostStore.
	Types  Types        // Types are the valid post types. Default is DefaultTypes().
	Users  []User       // Users are the known accounts, used for ownership and bearer tokens.
	Logger *slog.Logger // Logger is the logger used by the Gallery. Default is a debug logger to stderr.
}

// ImportReport summarizes a bulk import.
type ImportReport struct {
	Created int
	Updated int
	Skipped int
}

// NewGallery creates a new Gallery and initializes its store.
func NewGallery(ctx context.Context, opts Options) (*Gallery, error) {
	if opts.Store == nil {
		opts.Store = NewMemoryPostStore()
	}

	if len(opts.Types) == 0 {
		opts.Types = DefaultTypes()
	}

	if opts.Logger == nil {
		opts.Logger = defaultLogger()
	}

	if err := opts.Store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize post store: %w", err)
	}

	return &Gallery{
		store:  opts.Store,
		types:  opts.Types.Clone(),
		users:  NewUsers(opts.Users...),
		logger: opts.Logger,
	}, nil
}

// Types returns the valid post types
func (g *Gallery) Types() Types {
	return g.types.Clone()
}

// Users returns the known accounts
func (g *Gallery) Users() *Users {
	return g.users
}

// Close closes the underlying store
func (g *Gallery) Close() error {
	return g.store.Close()
}

// Search returns one page of posts matching the filter.
func (g *Gallery) Search(ctx context.Context, filter FilterOptions) (Paginator, error) {
	filter = filter.Normalize()

	posts, total, err := g.store.Search(ctx, filter)
	if err != nil {
		return Paginator{}, fmt.Errorf("error searching for posts: %w", err)
	}

	return NewPaginator(posts, total, filter.Offset, filter.Limit), nil
}

// All returns every post, newest first.
func (g *Gallery) All(ctx context.Context) (Paginator, error) {
	return g.Search(ctx, FilterOptions{Limit: NoLimit})
}

// Get retrieves a post by ID.
func (g *Gallery) Get(ctx context.Context, id string) (*Post, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrMissingID
	}
	return g.store.Get(ctx, id)
}

// GetWithUser retrieves a post by ID together with the owner's username when the owner is known.
func (g *Gallery) GetWithUser(ctx context.Context, id string) (*PostWithUser, error) {
	post, err := g.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &PostWithUser{Post: *post}
	if user, ok := g.users.ByID(post.UserID); ok {
		result.Username = user.Username
	}
	return result, nil
}

// Create validates and stores a new post.
func (g *Gallery) Create(ctx context.Context, post *Post) (*Post, error) {
	if err := post.ValidateRequired(); err != nil {
		return nil, err
	}

	if _, err := g.store.Get(ctx, post.ID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrPostExists, post.ID)
	} else if !errors.Is(err, ErrPostNotFound) {
		return nil, fmt.Errorf("error checking for existing post: %w", err)
	}

	if err := post.Validate(g.types); err != nil {
		return nil, err
	}

	created, err := g.store.Create(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("error adding to store: %w", err)
	}

	g.logger.Debug("post created", slog.String("id", created.ID), slog.String("type", created.Type))
	return created, nil
}

// Update validates and replaces an existing post. The source and date of a post cannot change.
func (g *Gallery) Update(ctx context.Context, post *Post) error {
	existing, err := g.Get(ctx, post.ID)
	if err != nil {
		return err
	}

	if err := ValidateUpdate(existing, post, g.types); err != nil {
		return err
	}

	if post.UserID == "" {
		post.UserID = existing.UserID
	}

	if err := g.store.Update(ctx, post); err != nil {
		return fmt.Errorf("error updating in store: %w", err)
	}

	g.logger.Debug("post updated", slog.String("id", post.ID))
	return nil
}

// Delete deletes a post by ID.
func (g *Gallery) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrMissingID
	}

	if err := g.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("error deleting from store: %w", err)
	}

	g.logger.Debug("post deleted", slog.String("id", id))
	return nil
}

// TypeCounts returns the number of posts per type.
func (g *Gallery) TypeCounts(ctx context.Context) (map[string]int, error) {
	return g.store.TypeCounts(ctx)
}

// Import creates or replaces posts in bulk. Invalid posts, and replacements that would change
// the source or date of a stored post, are logged and skipped.
func (g *Gallery) Import(ctx context.Context, posts ...*Post) (ImportReport, error) {
	var report ImportReport

	for _, post := range posts {
		if err := post.Validate(g.types); err != nil {
			g.logger.Warn("skipping invalid post",
				slog.String("id", post.ID),
				slog.String("error", err.Error()))
			report.Skipped++
			continue
		}

		_, err := g.store.Create(ctx, post)
		if err == nil {
			report.Created++
			continue
		}

		if !errors.Is(err, ErrPostExists) {
			return report, fmt.Errorf("error importing post %s: %w", post.ID, err)
		}

		// If the post already exists, update it under the same rules as Update
		existing, err := g.store.Get(ctx, post.ID)
		if err != nil {
			return report, fmt.Errorf("error getting existing post %s: %w", post.ID, err)
		}

		if err := ValidateUpdate(existing, post, g.types); err != nil {
			g.logger.Warn("skipping invalid update",
				slog.String("id", post.ID),
				slog.String("error", err.Error()))
			report.Skipped++
			continue
		}

		if post.UserID == "" {
			post.UserID = existing.UserID
		}

		if err := g.store.Update(ctx, post); err != nil {
			return report, fmt.Errorf("error updating existing post %s: %w", post.ID, err)
		}
		report.Updated++
	}

	return report, nil
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{
			AddSource: false,
			Level:     slog.LevelDebug,
		}))
}
