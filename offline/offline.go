// Package offline records writes made while the gallery service is unreachable and replays
// them, oldest first, once it comes back.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hypergopher/astroglossary"
)

// Method is the kind of write an Operation replays.
type Method string

const (
	MethodCreate Method = "CREATE"
	MethodUpdate Method = "UPDATE"
	MethodDelete Method = "DELETE"
)

var ErrUnknownMethod = errors.New("unknown operation method")

// Operation is a deferred write. Post is set for creates and updates, ID for deletes.
type Operation struct {
	Method Method              `json:"method"`
	Post   *astroglossary.Post `json:"post,omitempty"`
	ID     string              `json:"id,omitempty"`
}

// CreateOp returns an operation that creates post
func CreateOp(post *astroglossary.Post) Operation {
	return Operation{Method: MethodCreate, Post: post.Clone(), ID: post.ID}
}

// UpdateOp returns an operation that replaces post
func UpdateOp(post *astroglossary.Post) Operation {
	return Operation{Method: MethodUpdate, Post: post.Clone(), ID: post.ID}
}

// DeleteOp returns an operation that deletes the post with the given ID
func DeleteOp(id string) Operation {
	return Operation{Method: MethodDelete, ID: id}
}

// Store persists encoded operations in insertion order.
type Store interface {
	AppendOperation(data []byte) error
	Operations() ([][]byte, error)
	ClearOperations() error
}

// Replayer sends a replayed operation to the gallery service.
type Replayer interface {
	CreatePost(ctx context.Context, post *astroglossary.Post) error
	UpdatePost(ctx context.Context, post *astroglossary.Post) error
	DeletePost(ctx context.Context, id string) error
}

// FlushReport summarizes a flush.
type FlushReport struct {
	Replayed int     // Replayed is the number of operations the service accepted.
	Failed   int     // Failed is the number of operations that were dropped.
	Errors   []error // Errors holds one error per dropped operation.
}

// Queue is a FIFO of pending operations backed by a Store. Enqueue blocks while a flush is running.
type Queue struct {
	store      Store
	maxRetries uint64
	retryable  func(error) bool
	interval   time.Duration
	logger     *slog.Logger
	mu         sync.Mutex
}

// Options is a struct for configuring a new Queue.
type Options struct {
	Store Store // Store persists the queue. Default is an in-memory store.

	// MaxRetries is the number of extra attempts per operation before it is dropped.
	// Zero replays each operation exactly once.
	MaxRetries uint64

	// Retryable decides whether a failed replay is attempted again. Default retries everything
	// except validation, duplicate and not-found errors.
	Retryable func(error) bool

	// InitialInterval is the first backoff delay. Default is the backoff package default.
	InitialInterval time.Duration

	Logger *slog.Logger // Logger is the logger used by the Queue. Default logs warnings to stderr.
}

// NewQueue creates a Queue.
func NewQueue(opts Options) *Queue {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}

	if opts.Retryable == nil {
		opts.Retryable = defaultRetryable
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}

	return &Queue{
		store:      opts.Store,
		maxRetries: opts.MaxRetries,
		retryable:  opts.Retryable,
		interval:   opts.InitialInterval,
		logger:     opts.Logger,
	}
}

// Enqueue appends op to the end of the queue.
func (q *Queue) Enqueue(op Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to encode operation: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.AppendOperation(data); err != nil {
		return fmt.Errorf("failed to enqueue operation: %w", err)
	}

	q.logger.Debug("operation queued", slog.String("method", string(op.Method)), slog.String("id", op.ID))
	return nil
}

// Pending returns the queued operations, oldest first.
func (q *Queue) Pending() ([]Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending()
}

// Len returns the number of queued operations.
func (q *Queue) Len() (int, error) {
	ops, err := q.Pending()
	return len(ops), err
}

// Flush replays every queued operation in insertion order. An operation that still fails after
// its retries is logged and dropped; the queue is empty afterwards either way. Flush stops early
// only when ctx is done, leaving the unreplayed operations queued.
func (q *Queue) Flush(ctx context.Context, replayer Replayer) (FlushReport, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var report FlushReport

	ops, err := q.pending()
	if err != nil {
		return report, err
	}

	if len(ops) == 0 {
		return report, nil
	}

	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			if rerr := q.requeue(ops[i:]); rerr != nil {
				return report, errors.Join(err, rerr)
			}
			return report, err
		}

		if err := q.replay(ctx, replayer, op); err != nil {
			q.logger.Warn("dropping operation that failed to replay",
				slog.String("method", string(op.Method)),
				slog.String("id", op.ID),
				slog.String("error", err.Error()))
			report.Failed++
			report.Errors = append(report.Errors, fmt.Errorf("%s %s: %w", op.Method, op.ID, err))
			continue
		}
		report.Replayed++
	}

	if err := q.store.ClearOperations(); err != nil {
		return report, fmt.Errorf("failed to clear queue: %w", err)
	}

	q.logger.Info("offline queue flushed", slog.Int("replayed", report.Replayed), slog.Int("failed", report.Failed))
	return report, nil
}

func (q *Queue) replay(ctx context.Context, replayer Replayer, op Operation) error {
	attempt := func() error {
		err := send(ctx, replayer, op)
		if err != nil && !q.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if q.maxRetries == 0 {
		return attempt()
	}

	b := backoff.NewExponentialBackOff()
	if q.interval > 0 {
		b.InitialInterval = q.interval
	}

	return backoff.RetryNotify(attempt, backoff.WithContext(backoff.WithMaxRetries(b, q.maxRetries), ctx),
		func(err error, wait time.Duration) {
			q.logger.Debug("retrying operation",
				slog.String("id", op.ID),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()))
		})
}

func send(ctx context.Context, replayer Replayer, op Operation) error {
	switch op.Method {
	case MethodCreate:
		return replayer.CreatePost(ctx, op.Post)
	case MethodUpdate:
		return replayer.UpdatePost(ctx, op.Post)
	case MethodDelete:
		return replayer.DeletePost(ctx, op.ID)
	}
	return backoff.Permanent(fmt.Errorf("%w: %q", ErrUnknownMethod, op.Method))
}

func (q *Queue) pending() ([]Operation, error) {
	raw, err := q.store.Operations()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	ops := make([]Operation, 0, len(raw))
	for _, data := range raw {
		var op Operation
		if err := json.Unmarshal(data, &op); err != nil {
			q.logger.Warn("skipping unreadable operation", slog.String("error", err.Error()))
			continue
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (q *Queue) requeue(ops []Operation) error {
	if err := q.store.ClearOperations(); err != nil {
		return err
	}
	for _, op := range ops {
		data, err := json.Marshal(op)
		if err != nil {
			return err
		}
		if err := q.store.AppendOperation(data); err != nil {
			return err
		}
	}
	return nil
}

func defaultRetryable(err error) bool {
	return !astroglossary.IsValidationError(err) &&
		!errors.Is(err, astroglossary.ErrPostExists) &&
		!errors.Is(err, astroglossary.ErrPostNotFound) &&
		!errors.Is(err, astroglossary.ErrUnauthorized)
}

// MemoryStore is a Store that keeps the queue in memory.
type MemoryStore struct {
	mu  sync.Mutex
	ops [][]byte
}

// NewMemoryStore returns an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) AppendOperation(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, append([]byte(nil), data...))
	return nil
}

func (m *MemoryStore) Operations() ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.ops))
	copy(out, m.ops)
	return out, nil
}

func (m *MemoryStore) ClearOperations() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = nil
	return nil
}
