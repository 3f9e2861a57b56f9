// Package client talks to the gallery service over JSON/HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hypergopher/astroglossary"
)

// DefaultTimeout bounds every request made by a Client.
const DefaultTimeout = 10 * time.Second

// APIError is a non-2xx response from the gallery service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gallery returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("gallery returned %d: %s", e.Status, e.Message)
}

// Unwrap maps the response onto the package sentinel errors so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return astroglossary.ErrUnauthorized
	case http.StatusForbidden:
		return astroglossary.ErrForbidden
	case http.StatusNotFound:
		return astroglossary.ErrPostNotFound
	case http.StatusConflict:
		return astroglossary.ErrPostExists
	case http.StatusBadRequest:
		return validationError(e.Message)
	}
	return nil
}

func validationError(message string) error {
	switch strings.ToLower(message) {
	case "all fields are required":
		return astroglossary.ErrMissingField
	case "invalid type":
		return astroglossary.ErrInvalidType
	case "title must start with a letter":
		return astroglossary.ErrInvalidTitle
	case "invalid date":
		return astroglossary.ErrInvalidDate
	case "source cannot be changed":
		return astroglossary.ErrSourceImmutable
	case "date cannot be changed":
		return astroglossary.ErrDateImmutable
	case "post id is required":
		return astroglossary.ErrMissingID
	}
	return nil
}

// IsOffline reports whether err means the service could not be reached, as opposed to
// the service rejecting the request.
func IsOffline(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Client is a gallery service client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

// Options is a struct for configuring a new Client.
type Options struct {
	BaseURL    string        // BaseURL is the service root, e.g. http://localhost:8080. Required.
	HTTPClient *http.Client  // HTTPClient sends the requests. Default is a client with Timeout.
	Timeout    time.Duration // Timeout is used when HTTPClient is nil. Default is DefaultTimeout.
	Token      string        // Token is the bearer token sent with writes.
	Logger     *slog.Logger  // Logger is the logger used by the Client. Default logs warnings to stderr.
}

// New creates a Client for the service at opts.BaseURL.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}

	return &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		token:      opts.Token,
	}
}

// SetToken replaces the bearer token. An empty token logs out.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer token
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Health checks that the service is up. Any 2xx response counts.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, false, nil)
}

// Types returns the valid post types.
func (c *Client) Types(ctx context.Context) (astroglossary.Types, error) {
	var types astroglossary.Types
	if err := c.do(ctx, http.MethodGet, "/types", nil, false, &types); err != nil {
		return nil, err
	}
	return types, nil
}

// Posts returns one page of posts matching filter.
func (c *Client) Posts(ctx context.Context, filter astroglossary.FilterOptions) (astroglossary.Paginator, error) {
	var page astroglossary.Paginator
	if err := c.do(ctx, http.MethodGet, "/posts?"+Query(filter).Encode(), nil, false, &page); err != nil {
		return astroglossary.Paginator{}, err
	}
	if page.Posts == nil {
		page.Posts = []*astroglossary.Post{}
	}
	return page, nil
}

// AllPosts returns every post, newest first.
func (c *Client) AllPosts(ctx context.Context) ([]*astroglossary.Post, error) {
	var body struct {
		Posts []*astroglossary.Post `json:"posts"`
	}
	if err := c.do(ctx, http.MethodGet, "/posts/all", nil, false, &body); err != nil {
		return nil, err
	}
	return body.Posts, nil
}

// Stats returns the number of posts per type.
func (c *Client) Stats(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{}
	if err := c.do(ctx, http.MethodGet, "/posts/stats", nil, false, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

// Post returns a single post with its owner's username.
func (c *Client) Post(ctx context.Context, id string) (*astroglossary.PostWithUser, error) {
	var post astroglossary.PostWithUser
	if err := c.do(ctx, http.MethodGet, "/posts/"+url.PathEscape(id), nil, false, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// CreatePost creates a post. Requires a token.
func (c *Client) CreatePost(ctx context.Context, post *astroglossary.Post) error {
	return c.do(ctx, http.MethodPost, "/posts", post, true, nil)
}

// UpdatePost replaces the post with the same ID. Requires a token.
func (c *Client) UpdatePost(ctx context.Context, post *astroglossary.Post) error {
	return c.do(ctx, http.MethodPut, "/posts/"+url.PathEscape(post.ID), post, true, nil)
}

// DeletePost deletes a post by ID. Requires a token.
func (c *Client) DeletePost(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/posts/"+url.PathEscape(id), nil, true, nil)
}

// FlaggedUsers lists the users flagged for review, most recent first. Requires an admin token.
func (c *Client) FlaggedUsers(ctx context.Context) ([]astroglossary.FlaggedUser, error) {
	var resp struct {
		Users []astroglossary.FlaggedUser `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/flagged", nil, true, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// Query encodes filter as the query string understood by GET /posts.
func Query(filter astroglossary.FilterOptions) url.Values {
	q := url.Values{}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	if filter.FilterTypes {
		q.Set("types", strings.Join(filter.Types, ","))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	return q
}

func (c *Client) do(ctx context.Context, method, path string, in any, auth bool, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if auth {
		token := c.Token()
		if token == "" {
			return astroglossary.ErrUnauthorized
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &msg) == nil {
			apiErr.Message = msg.Message
		}
		c.logger.Debug("request rejected",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("message", apiErr.Message))
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
