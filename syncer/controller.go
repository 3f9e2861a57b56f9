// Package syncer keeps a client-side copy of the gallery in step with the service. It pages
// posts in as they are needed, falls back to the local cache when the service cannot be reached,
// and queues writes made in the meantime for replay.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hypergopher/astroglossary"
	"github.com/hypergopher/astroglossary/client"
	"github.com/hypergopher/astroglossary/localcache"
	"github.com/hypergopher/astroglossary/offline"
)

// DefaultHealthInterval is how often the service is probed once Start is called.
const DefaultHealthInterval = 5 * time.Second

var (
	ErrMissingRemote   = errors.New("syncer: remote is required")
	ErrMissingCache    = errors.New("syncer: cache is required")
	ErrInvalidPageSize = errors.New("page size must be positive")
)

// Remote is the gallery service as seen by the controller. *client.Client implements it.
type Remote interface {
	offline.Replayer
	Health(ctx context.Context) error
	Types(ctx context.Context) (astroglossary.Types, error)
	Posts(ctx context.Context, filter astroglossary.FilterOptions) (astroglossary.Paginator, error)
	SetToken(token string)
}

// Cache is the persisted copy of the collection. *localcache.Cache implements it.
type Cache interface {
	Posts() ([]*astroglossary.Post, error)
	SetPosts(posts []*astroglossary.Post) error
	PrependPost(post *astroglossary.Post) error
	PutPost(post *astroglossary.Post) error
	RemovePost(id string) error
	Types() (astroglossary.Types, error)
	SetTypes(types astroglossary.Types) error
	Invalidate() error
	Session() (localcache.Session, bool, error)
	SetSession(session localcache.Session) error
	ClearSession() error
}

// Options is a struct for configuring a new Controller.
type Options struct {
	Remote         Remote           // Remote is the gallery service. Required.
	Cache          Cache            // Cache persists posts, types and the session. Required.
	Queue          *offline.Queue   // Queue holds writes made while disconnected. Default is an in-memory queue.
	PageSize       int              // PageSize is the initial page size. Default is astroglossary.DefaultPageSize.
	HealthInterval time.Duration    // HealthInterval is the probe period used by Start. Default is DefaultHealthInterval.
	IsOffline      func(error) bool // IsOffline classifies failures that are absorbed by the queue. Default is client.IsOffline.
	OnAlert        func(error)      // OnAlert receives errors that should be shown to the user.
	OnChange       func(State)      // OnChange receives a copy of the state after every change.
	Logger         *slog.Logger     // Logger is the logger used by the Controller. Default logs warnings to stderr.
}

// Controller owns the client State and is the only thing that changes it. It is safe for concurrent use.
type Controller struct {
	remote    Remote
	cache     Cache
	queue     *offline.Queue
	interval  time.Duration
	isOffline func(error) bool
	onAlert   func(error)
	onChange  func(State)
	logger    *slog.Logger

	mu      sync.Mutex
	state   State
	session localcache.Session
	cron    *cron.Cron
}

// New creates a Controller and restores any saved session from the cache.
func New(opts Options) (*Controller, error) {
	if opts.Remote == nil {
		return nil, ErrMissingRemote
	}

	if opts.Cache == nil {
		return nil, ErrMissingCache
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}

	if opts.Queue == nil {
		opts.Queue = offline.NewQueue(offline.Options{Logger: opts.Logger})
	}

	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}

	if opts.IsOffline == nil {
		opts.IsOffline = client.IsOffline
	}

	c := &Controller{
		remote:    opts.Remote,
		cache:     opts.Cache,
		queue:     opts.Queue,
		interval:  opts.HealthInterval,
		isOffline: opts.IsOffline,
		onAlert:   opts.OnAlert,
		onChange:  opts.OnChange,
		logger:    opts.Logger,
		state:     NewState(opts.PageSize),
	}

	session, ok, err := c.cache.Session()
	if err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	if ok {
		c.session = session
		c.remote.SetToken(session.Token)
	}

	return c, nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Visible returns the loaded posts that pass the current search and type filter.
func (c *Controller) Visible() []*astroglossary.Post {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Visible()
}

// TypeCounts counts the loaded posts by type.
func (c *Controller) TypeCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.TypeCounts()
}

// Session returns the signed-in user. ok is false when nobody is signed in.
func (c *Controller) Session() (session localcache.Session, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.session.Token != ""
}

// Login stores the user and token and uses the token for writes.
func (c *Controller) Login(user astroglossary.User, token string) error {
	session := localcache.Session{User: user, Token: token}
	if err := c.cache.SetSession(session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	c.remote.SetToken(token)
	c.logger.Info("signed in", slog.String("user", user.Username))
	return nil
}

// Logout forgets the stored user and token.
func (c *Controller) Logout() error {
	if err := c.cache.ClearSession(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	c.mu.Lock()
	c.session = localcache.Session{}
	c.mu.Unlock()

	c.remote.SetToken("")
	return nil
}

// Pending returns the queued offline operations, oldest first.
func (c *Controller) Pending() ([]offline.Operation, error) {
	return c.queue.Pending()
}

// Load fetches the types and the first page of posts.
func (c *Controller) Load(ctx context.Context) error {
	if err := c.FetchTypes(ctx); err != nil {
		return err
	}
	return c.Refresh(ctx)
}

// FetchTypes loads the valid types. When the service cannot be reached the cached types are used.
func (c *Controller) FetchTypes(ctx context.Context) error {
	types, err := c.remote.Types(ctx)
	if err != nil {
		if !c.isOffline(err) {
			c.alert(err)
			return fmt.Errorf("failed to fetch types: %w", err)
		}

		c.logger.Warn("using cached types", slog.String("error", err.Error()))
		c.markServerDown()

		types, err = c.cache.Types()
		if err != nil {
			return fmt.Errorf("failed to read cached types: %w", err)
		}
	} else if err := c.cache.SetTypes(types); err != nil {
		c.logger.Warn("failed to cache types", slog.String("error", err.Error()))
	}

	c.update(func(s State) State { return s.WithTypes(types) })
	return nil
}

// FetchPosts requests the page at the cursor and appends it to the collection. When the service
// cannot be reached the collection is replaced by the cached posts. A response that arrives after
// the filter has changed is discarded.
func (c *Controller) FetchPosts(ctx context.Context) error {
	c.mu.Lock()
	c.state = c.state.WithLoading()
	gen := c.state.Generation
	filter := c.state.Filter()
	c.mu.Unlock()

	page, err := c.remote.Posts(ctx, filter)

	if err != nil && !c.isOffline(err) {
		c.mu.Lock()
		if c.state.Generation == gen {
			c.state.Loading = false
		}
		c.mu.Unlock()
		c.alert(err)
		return fmt.Errorf("failed to fetch posts: %w", err)
	}

	var cached []*astroglossary.Post
	fromCache := err != nil
	if fromCache {
		c.logger.Warn("using cached posts", slog.String("error", err.Error()))
		c.markServerDown()
		if cached, err = c.cache.Posts(); err != nil {
			c.mu.Lock()
			if c.state.Generation == gen {
				c.state.Loading = false
			}
			c.mu.Unlock()
			c.alert(err)
			return fmt.Errorf("failed to read cached posts: %w", err)
		}
	}

	c.mu.Lock()
	if c.state.Generation != gen {
		c.mu.Unlock()
		c.logger.Debug("discarding stale page", slog.Uint64("generation", gen))
		return nil
	}

	if fromCache {
		c.state = c.state.WithCachedPosts(cached)
	} else {
		c.state = c.state.WithPage(page)
		if err := c.cache.SetPosts(c.state.Posts); err != nil {
			c.logger.Warn("failed to cache posts", slog.String("error", err.Error()))
		}
	}
	snapshot := c.state.Clone()
	c.mu.Unlock()

	c.notify(snapshot)
	return nil
}

// LoadMore fetches the next page when more posts remain and the service is reachable.
// It reports whether a page was requested.
func (c *Controller) LoadMore(ctx context.Context) (bool, error) {
	c.mu.Lock()
	ok := c.state.CanLoadMore()
	c.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, c.FetchPosts(ctx)
}

// Refresh clears the collection and fetches the first page.
func (c *Controller) Refresh(ctx context.Context) error {
	c.update(State.Reset)
	return c.FetchPosts(ctx)
}

// Apply runs the reducers over the state in order and fetches from the cursor once. Use it to change
// several filters with a single request.
func (c *Controller) Apply(ctx context.Context, reducers ...func(State) State) error {
	c.update(func(s State) State {
		for _, fn := range reducers {
			s = fn(s)
		}
		return s
	})
	return c.FetchPosts(ctx)
}

// SetSearch changes the search term and refetches from the first page.
func (c *Controller) SetSearch(ctx context.Context, term string) error {
	c.update(func(s State) State { return s.WithSearch(term) })
	return c.FetchPosts(ctx)
}

// SetCheckedTypes replaces the type filter and refetches from the first page.
func (c *Controller) SetCheckedTypes(ctx context.Context, checked astroglossary.CheckedTypes) error {
	c.update(func(s State) State { return s.WithCheckedTypes(checked) })
	return c.FetchPosts(ctx)
}

// ToggleType flips one type in the filter and refetches from the first page.
func (c *Controller) ToggleType(ctx context.Context, t string) error {
	c.update(func(s State) State { return s.WithToggledType(t) })
	return c.FetchPosts(ctx)
}

// SetPageSize changes the page size and refetches from the first page.
func (c *Controller) SetPageSize(ctx context.Context, size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, size)
	}
	c.update(func(s State) State { return s.WithPageSize(size) })
	return c.FetchPosts(ctx)
}

// AddPost creates a post. While disconnected the post is queued and added to the cached collection,
// unless the cached collection already has a post with the same ID.
func (c *Controller) AddPost(ctx context.Context, post *astroglossary.Post) error {
	if err := c.authorize(); err != nil {
		return err
	}

	c.mu.Lock()
	types := c.state.Types.Clone()
	c.mu.Unlock()

	if err := post.Validate(types); err != nil {
		c.alert(err)
		return err
	}

	return c.write(ctx, offline.CreateOp(post), func() error {
		return c.remote.CreatePost(ctx, post)
	}, func() error {
		return c.cache.PrependPost(post.Clone())
	})
}

// UpdatePost replaces a post. The source and date cannot change. While disconnected the update
// is queued and applied to the cached collection, which must hold the post.
func (c *Controller) UpdatePost(ctx context.Context, post *astroglossary.Post) error {
	if err := c.authorize(); err != nil {
		return err
	}

	c.mu.Lock()
	types := c.state.Types.Clone()
	var existing *astroglossary.Post
	for _, p := range c.state.Posts {
		if p.ID == post.ID {
			existing = p.Clone()
			break
		}
	}
	c.mu.Unlock()

	var err error
	if existing != nil {
		err = astroglossary.ValidateUpdate(existing, post, types)
	} else {
		err = post.Validate(types)
	}
	if err != nil {
		c.alert(err)
		return err
	}

	return c.write(ctx, offline.UpdateOp(post), func() error {
		return c.remote.UpdatePost(ctx, post)
	}, func() error {
		return c.cache.PutPost(post.Clone())
	})
}

// DeletePost deletes a post by ID. While disconnected the delete is queued and applied to the cached
// collection. A post that is not cached cannot be deleted while disconnected.
func (c *Controller) DeletePost(ctx context.Context, id string) error {
	if err := c.authorize(); err != nil {
		return err
	}

	if id == "" {
		c.alert(astroglossary.ErrMissingID)
		return astroglossary.ErrMissingID
	}

	return c.write(ctx, offline.DeleteOp(id), func() error {
		return c.remote.DeletePost(ctx, id)
	}, func() error {
		return c.cache.RemovePost(id)
	})
}

// SetOnline records a change in network availability.
func (c *Controller) SetOnline(ctx context.Context, online bool) error {
	c.mu.Lock()
	serverUp := c.state.ServerUp
	c.mu.Unlock()
	return c.setConnectivity(ctx, online, serverUp)
}

// CheckHealth probes the service and records whether it is up.
func (c *Controller) CheckHealth(ctx context.Context) error {
	err := c.remote.Health(ctx)
	if err != nil {
		c.logger.Debug("health check failed", slog.String("error", err.Error()))
	}

	c.mu.Lock()
	online := c.state.Online
	c.mu.Unlock()
	return c.setConnectivity(ctx, online, err == nil)
}

// Flush replays the queued operations against the service.
func (c *Controller) Flush(ctx context.Context) (offline.FlushReport, error) {
	return c.queue.Flush(ctx, c.remote)
}

// Resync flushes the queue, drops the cached collection and reloads everything from the service.
func (c *Controller) Resync(ctx context.Context) error {
	report, err := c.Flush(ctx)
	if err != nil {
		return fmt.Errorf("failed to flush offline queue: %w", err)
	}
	if report.Replayed+report.Failed > 0 {
		c.logger.Info("replayed offline changes",
			slog.Int("replayed", report.Replayed),
			slog.Int("failed", report.Failed))
	}

	if err := c.cache.Invalidate(); err != nil {
		return err
	}

	return c.Load(ctx)
}

// Start probes the service every HealthInterval until Stop is called.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cron != nil {
		return nil
	}

	cr := cron.New()
	_, err := cr.AddFunc("@every "+c.interval.String(), func() {
		if err := c.CheckHealth(ctx); err != nil {
			c.logger.Warn("resync after reconnect failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule health check: %w", err)
	}

	cr.Start()
	c.cron = cr
	return nil
}

// Stop stops the health probe and waits for a running probe to finish.
func (c *Controller) Stop() {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()

	if cr != nil {
		<-cr.Stop().Done()
	}
}

// write sends a write to the service, or applies local and queues it when the service is unreachable.
// Operations queued earlier are replayed before a new write reaches the service.
// A successful write reloads the collection from the first page.
func (c *Controller) write(ctx context.Context, op offline.Operation, remote, local func() error) error {
	c.mu.Lock()
	connected := c.state.Connected()
	c.mu.Unlock()

	if connected && c.hasPending() {
		if err := c.CheckHealth(ctx); err != nil {
			c.logger.Warn("failed to replay queued changes", slog.String("error", err.Error()))
		}
		c.mu.Lock()
		connected = c.state.Connected()
		c.mu.Unlock()
	}

	if connected {
		err := remote()
		if err == nil {
			return c.Refresh(ctx)
		}

		if !c.isOffline(err) {
			c.alert(err)
			return err
		}

		c.logger.Warn("service unreachable, queueing change",
			slog.String("method", string(op.Method)),
			slog.String("id", op.ID),
			slog.String("error", err.Error()))
		c.markServerDown()
	}

	// offline writes are checked against the cached collection
	if err := local(); err != nil {
		c.alert(err)
		return err
	}

	if err := c.queue.Enqueue(op); err != nil {
		return err
	}

	posts, err := c.cache.Posts()
	if err != nil {
		return fmt.Errorf("failed to read cached posts: %w", err)
	}

	c.update(func(s State) State { return s.WithCachedPosts(posts) })
	return nil
}

func (c *Controller) setConnectivity(ctx context.Context, online, serverUp bool) error {
	c.mu.Lock()
	was := c.state.Connected()
	c.state = c.state.WithConnectivity(online, serverUp)
	now := c.state.Connected()
	snapshot := c.state.Clone()
	c.mu.Unlock()

	if was != now {
		c.logger.Info("connectivity changed", slog.Bool("online", online), slog.Bool("server_up", serverUp))
		c.notify(snapshot)
	}

	switch {
	case !was && now:
		return c.Resync(ctx)
	case now && c.hasPending():
		// queued by an earlier run that never saw the service come back
		return c.Resync(ctx)
	}
	return nil
}

func (c *Controller) hasPending() bool {
	n, err := c.queue.Len()
	if err != nil {
		c.logger.Warn("failed to read offline queue", slog.String("error", err.Error()))
		return false
	}
	return n > 0
}

func (c *Controller) markServerDown() {
	c.mu.Lock()
	c.state = c.state.WithConnectivity(c.state.Online, false)
	c.mu.Unlock()
}

func (c *Controller) authorize() error {
	c.mu.Lock()
	token := c.session.Token
	c.mu.Unlock()

	if token == "" {
		c.alert(astroglossary.ErrUnauthorized)
		return astroglossary.ErrUnauthorized
	}
	return nil
}

func (c *Controller) update(fn func(State) State) {
	c.mu.Lock()
	c.state = fn(c.state)
	snapshot := c.state.Clone()
	c.mu.Unlock()
	c.notify(snapshot)
}

func (c *Controller) notify(s State) {
	if c.onChange != nil {
		c.onChange(s)
	}
}

func (c *Controller) alert(err error) {
	c.logger.Debug("alert", slog.String("error", err.Error()))
	if c.onAlert != nil {
		c.onAlert(err)
	}
}
