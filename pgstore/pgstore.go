// Package pgstore implements astroglossary.PostStore on PostgreSQL using pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hypergopher/astroglossary"
)

const uniqueViolation = "23505"

// PGStore keeps posts in a single PostgreSQL table.
type PGStore struct {
	pool      *pgxpool.Pool
	tableName string
}

// Connect opens a connection pool for the given DSN and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return pool, nil
}

// New creates a PGStore on an existing pool. Call Init before use.
func New(pool *pgxpool.Pool, tableName string) *PGStore {
	if tableName == "" {
		tableName = "posts"
	}
	return &PGStore{pool: pool, tableName: tableName}
}

// Init creates the posts table and its indexes if they do not exist.
func (s *PGStore) Init(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ` + s.tableName + ` (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			type TEXT NOT NULL,
			subject TEXT NOT NULL,
			source TEXT NOT NULL,
			date TIMESTAMPTZ NOT NULL,
			user_id TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS ` + s.tableName + `_type_idx ON ` + s.tableName + ` (type);
	`
	_, err := s.pool.Exec(ctx, query)
	return err
}

// Clear deletes every post.
func (s *PGStore) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE `+s.tableName)
	return err
}

// Close closes the pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

// Create inserts a new post.
func (s *PGStore) Create(ctx context.Context, post *astroglossary.Post) (*astroglossary.Post, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.tableName+` (id, title, type, subject, source, date, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		post.ID, post.Title, post.Type, post.Subject, post.Source, post.Date, post.UserID)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return nil, fmt.Errorf("%w: %s", astroglossary.ErrPostExists, post.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert post: %w", err)
	}

	return post.Clone(), nil
}

// Update replaces an existing post.
func (s *PGStore) Update(ctx context.Context, post *astroglossary.Post) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.tableName+`
		SET title = $2, type = $3, subject = $4, source = $5, date = $6, user_id = $7
		WHERE id = $1`,
		post.ID, post.Title, post.Type, post.Subject, post.Source, post.Date, post.UserID)
	if err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", astroglossary.ErrPostNotFound, post.ID)
	}
	return nil
}

// Delete deletes a post by ID.
func (s *PGStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.tableName+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", astroglossary.ErrPostNotFound, id)
	}
	return nil
}

// Get retrieves a post by ID.
func (s *PGStore) Get(ctx context.Context, id string) (*astroglossary.Post, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, title, type, subject, source, date, user_id FROM `+s.tableName+` WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query post: %w", err)
	}

	post, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByPos[astroglossary.Post])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", astroglossary.ErrPostNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan post: %w", err)
	}
	return post, nil
}

// Search returns a page of matching posts, newest first, and the number of matches.
func (s *PGStore) Search(ctx context.Context, opts astroglossary.FilterOptions) ([]*astroglossary.Post, int, error) {
	opts = opts.Normalize()

	if opts.FilterTypes && len(opts.Types) == 0 {
		return []*astroglossary.Post{}, 0, nil
	}

	where, args := whereClause(opts)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+s.tableName+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count posts: %w", err)
	}

	query := `SELECT id, title, type, subject, source, date, user_id FROM ` + s.tableName + where + ` ORDER BY seq DESC`
	args = append(args, opts.Offset)
	query += fmt.Sprintf(` OFFSET $%d`, len(args))
	if opts.Limit != astroglossary.NoLimit {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search posts: %w", err)
	}

	posts, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[astroglossary.Post])
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan posts: %w", err)
	}
	if posts == nil {
		posts = []*astroglossary.Post{}
	}

	return posts, total, nil
}

// TypeCounts returns the number of posts per type.
func (s *PGStore) TypeCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT type, COUNT(*) FROM `+s.tableName+` GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count types: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var postType string
		var count int
		if err := rows.Scan(&postType, &count); err != nil {
			return nil, err
		}
		counts[postType] = count
	}
	return counts, rows.Err()
}

func whereClause(opts astroglossary.FilterOptions) (string, []any) {
	var conditions []string
	var args []any

	if opts.Search != "" {
		args = append(args, "%"+escapeLike(opts.Search)+"%")
		conditions = append(conditions, fmt.Sprintf(`title ILIKE $%d`, len(args)))
	}

	if opts.FilterTypes {
		args = append(args, opts.Types)
		conditions = append(conditions, fmt.Sprintf(`type = ANY($%d)`, len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
