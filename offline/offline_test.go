package offline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypergopher/astroglossary"
	"github.com/hypergopher/astroglossary/localcache"
	"github.com/hypergopher/astroglossary/offline"
)

var errDown = errors.New("connection refused")

// recorder is a Replayer that records calls and fails the configured IDs.
type recorder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	// failures counts down how many times an ID fails before succeeding
	failures map[string]int
}

func (r *recorder) call(method, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, method+" "+id)
	if n := r.failures[id]; n > 0 {
		r.failures[id] = n - 1
		return errDown
	}
	return r.fail[id]
}

func (r *recorder) CreatePost(_ context.Context, post *astroglossary.Post) error {
	return r.call("CREATE", post.ID)
}

func (r *recorder) UpdatePost(_ context.Context, post *astroglossary.Post) error {
	return r.call("UPDATE", post.ID)
}

func (r *recorder) DeletePost(_ context.Context, id string) error {
	return r.call("DELETE", id)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func post(id string) *astroglossary.Post {
	return &astroglossary.Post{ID: id, Title: "Post " + id, Type: "star", Subject: "s", Source: "src", Date: time.Now().UTC()}
}

func TestQueue_FlushInOrderAndDropsFailures(t *testing.T) {
	ctx := context.Background()
	q := offline.NewQueue(offline.Options{Logger: discard()})

	require.NoError(t, q.Enqueue(offline.CreateOp(post("a"))))
	require.NoError(t, q.Enqueue(offline.UpdateOp(post("b"))))
	require.NoError(t, q.Enqueue(offline.DeleteOp("c")))
	require.NoError(t, q.Enqueue(offline.CreateOp(post("d"))))

	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	r := &recorder{fail: map[string]error{"b": astroglossary.ErrPostNotFound}}
	report, err := q.Flush(ctx, r)
	require.NoError(t, err)

	assert.Equal(t, []string{"CREATE a", "UPDATE b", "DELETE c", "CREATE d"}, r.calls)
	assert.Equal(t, 3, report.Replayed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.ErrorIs(t, report.Errors[0], astroglossary.ErrPostNotFound)

	n, err = q.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueue_NoRetriesByDefault(t *testing.T) {
	q := offline.NewQueue(offline.Options{Logger: discard()})
	require.NoError(t, q.Enqueue(offline.DeleteOp("a")))

	r := &recorder{failures: map[string]int{"a": 1}}
	report, err := q.Flush(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, []string{"DELETE a"}, r.calls)
	assert.Equal(t, 1, report.Failed)
}

func TestQueue_RetriesWithBackoff(t *testing.T) {
	q := offline.NewQueue(offline.Options{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		Logger:          discard(),
	})
	require.NoError(t, q.Enqueue(offline.CreateOp(post("a"))))
	require.NoError(t, q.Enqueue(offline.CreateOp(post("b"))))

	r := &recorder{
		failures: map[string]int{"a": 2},
		fail:     map[string]error{"b": astroglossary.ErrInvalidType},
	}
	report, err := q.Flush(context.Background(), r)
	require.NoError(t, err)

	// a succeeds on its third attempt; b is a validation error and is not retried
	assert.Equal(t, []string{"CREATE a", "CREATE a", "CREATE a", "CREATE b"}, r.calls)
	assert.Equal(t, 1, report.Replayed)
	assert.Equal(t, 1, report.Failed)
}

func TestQueue_CanceledFlushKeepsRemaining(t *testing.T) {
	q := offline.NewQueue(offline.Options{Logger: discard()})
	require.NoError(t, q.Enqueue(offline.DeleteOp("a")))
	require.NoError(t, q.Enqueue(offline.DeleteOp("b")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Flush(ctx, &recorder{})
	assert.ErrorIs(t, err, context.Canceled)

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)
}

func TestQueue_PersistsInLocalCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.db")
	cache, err := localcache.Open(path, discard())
	require.NoError(t, err)

	q := offline.NewQueue(offline.Options{Store: cache, Logger: discard()})
	require.NoError(t, q.Enqueue(offline.CreateOp(post("a"))))
	require.NoError(t, q.Enqueue(offline.DeleteOp("b")))
	require.NoError(t, cache.Close())

	cache, err = localcache.Open(path, discard())
	require.NoError(t, err)
	defer cache.Close()

	q = offline.NewQueue(offline.Options{Store: cache, Logger: discard()})
	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, offline.MethodCreate, pending[0].Method)
	assert.Equal(t, "Post a", pending[0].Post.Title)
	assert.Equal(t, offline.MethodDelete, pending[1].Method)
	assert.Equal(t, "b", pending[1].ID)
}
