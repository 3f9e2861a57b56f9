package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hypergopher/astroglossary"
)

const dateLayout = time.RFC3339Nano

type SQLiteStore struct {
	db        *sql.DB
	tableName string
}

func NewSQLiteStore(db *sql.DB, tableName string) *SQLiteStore {
	if tableName == "" {
		tableName = "posts"
	}
	return &SQLiteStore{db: db, tableName: tableName}
}

// Init initializes the SQLiteStore, creating the necessary tables or indexes if they do not exist.
func (s *SQLiteStore) Init(ctx context.Context) error {
	query := `
		-- seq orders posts, newest highest
		CREATE TABLE IF NOT EXISTS ` + s.tableName + ` (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			type TEXT NOT NULL,
			subject TEXT NOT NULL,
			source TEXT NOT NULL,
			date TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT ''
		);

		-- Index on type
		CREATE INDEX IF NOT EXISTS ` + s.tableName + `_type_idx ON ` + s.tableName + `(type);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Clear deletes every post
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+s.tableName)
	return err
}

// Create creates a new post in the database
func (s *SQLiteStore) Create(ctx context.Context, post *astroglossary.Post) (*astroglossary.Post, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM `+s.tableName+` WHERE id = ?`, post.ID).Scan(&exists)
	if err == nil {
		return nil, fmt.Errorf("%w: %s", astroglossary.ErrPostExists, post.ID)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	query := `
		INSERT INTO ` + s.tableName + ` (id, title, type, subject, source, date, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query,
		post.ID, post.Title, post.Type, post.Subject, post.Source,
		post.Date.UTC().Format(dateLayout), post.UserID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return post.Clone(), nil
}

// Update replaces the mutable columns of an existing post
func (s *SQLiteStore) Update(ctx context.Context, post *astroglossary.Post) error {
	query := `
		UPDATE ` + s.tableName + ` SET
			title = ?, type = ?, subject = ?, source = ?, date = ?, user_id = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		post.Title, post.Type, post.Subject, post.Source,
		post.Date.UTC().Format(dateLayout), post.UserID,
		post.ID)
	if err != nil {
		return err
	}

	return requireAffected(result, post.ID)
}

// Delete deletes a post by ID
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM `+s.tableName+` WHERE id = ?`, id)
	if err != nil {
		return err
	}

	return requireAffected(result, id)
}

// Get retrieves a post by ID
func (s *SQLiteStore) Get(ctx context.Context, id string) (*astroglossary.Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, type, subject, source, date, user_id FROM `+s.tableName+` WHERE id = ?`, id)

	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", astroglossary.ErrPostNotFound, id)
	}
	return post, err
}

// Search returns a page of matching posts, newest first, and the number of matches
func (s *SQLiteStore) Search(ctx context.Context, opts astroglossary.FilterOptions) ([]*astroglossary.Post, int, error) {
	opts = opts.Normalize()

	if opts.FilterTypes && len(opts.Types) == 0 {
		return []*astroglossary.Post{}, 0, nil
	}

	where, args := whereClause(opts)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.tableName+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting posts: %w", err)
	}

	// A negative LIMIT means no limit in SQLite
	limit := opts.Limit
	query := `SELECT id, title, type, subject, source, date, user_id FROM ` + s.tableName + where +
		` ORDER BY seq DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, append(args, limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("error searching posts: %w", err)
	}
	defer rows.Close()

	posts := make([]*astroglossary.Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, 0, err
		}
		posts = append(posts, post)
	}

	return posts, total, rows.Err()
}

// TypeCounts returns the number of posts per type
func (s *SQLiteStore) TypeCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM `+s.tableName+` GROUP BY type`)
	if err != nil {
		return nil, err
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (*astroglossary.Post, error) {
	var post astroglossary.Post
	var date string
	if err := row.Scan(&post.ID, &post.Title, &post.Type, &post.Subject, &post.Source, &date, &post.UserID); err != nil {
		return nil, err
	}

	parsed, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", astroglossary.ErrInvalidDate, date)
	}
	post.Date = parsed

	return &post, nil
}

func whereClause(opts astroglossary.FilterOptions) (string, []any) {
	var conditions []string
	var args []any

	if opts.Search != "" {
		conditions = append(conditions, `lower(title) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(opts.Search))+"%")
	}

	if opts.FilterTypes {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(opts.Types)), ",")
		conditions = append(conditions, `type IN (`+placeholders+`)`)
		for _, t := range opts.Types {
			args = append(args, t)
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func requireAffected(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", astroglossary.ErrPostNotFound, id)
	}
	return nil
}
