// Package localcache persists the client's view of the gallery between runs: the last fetched
// posts and types, the pending offline operations, and the signed-in user.
package localcache

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/hypergopher/astroglossary"
)

const (
	bucketPosts   = "posts"
	bucketTypes   = "types"
	bucketQueue   = "queue"
	bucketSession = "session"

	keyCollection = "collection"
	keyUser       = "user"
	keyToken      = "token"
)

var buckets = []string{bucketPosts, bucketTypes, bucketQueue, bucketSession}

// Session is the signed-in user and their bearer token.
type Session struct {
	User  astroglossary.User
	Token string
}

// Cache is a bbolt-backed local cache. It is safe for concurrent use.
type Cache struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// Open opens or creates the cache file at path.
func Open(path string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Cache{db: db, logger: logger}, nil
}

// Close closes the cache file
func (c *Cache) Close() error {
	return c.db.Close()
}

// Posts returns the cached collection in display order. An empty cache returns an empty slice.
func (c *Cache) Posts() ([]*astroglossary.Post, error) {
	posts := []*astroglossary.Post{}
	err := c.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx, bucketPosts, keyCollection, &posts)
	})
	return posts, err
}

// SetPosts replaces the cached collection.
func (c *Cache) SetPosts(posts []*astroglossary.Post) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx, bucketPosts, keyCollection, posts)
	})
}

// PrependPost puts post at the front of the cached collection. It fails with ErrPostExists when
// a post with the same ID is already cached.
func (c *Cache) PrependPost(post *astroglossary.Post) error {
	return c.updatePosts(func(posts []*astroglossary.Post) ([]*astroglossary.Post, error) {
		for _, p := range posts {
			if p.ID == post.ID {
				return nil, fmt.Errorf("%w: %s", astroglossary.ErrPostExists, post.ID)
			}
		}
		return append([]*astroglossary.Post{post}, posts...), nil
	})
}

// PutPost replaces the cached post with the same ID.
func (c *Cache) PutPost(post *astroglossary.Post) error {
	return c.updatePosts(func(posts []*astroglossary.Post) ([]*astroglossary.Post, error) {
		for i, p := range posts {
			if p.ID == post.ID {
				posts[i] = post
				return posts, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", astroglossary.ErrPostNotFound, post.ID)
	})
}

// RemovePost removes the cached post with the given ID.
func (c *Cache) RemovePost(id string) error {
	return c.updatePosts(func(posts []*astroglossary.Post) ([]*astroglossary.Post, error) {
		for i, p := range posts {
			if p.ID == id {
				return append(posts[:i], posts[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("%w: %s", astroglossary.ErrPostNotFound, id)
	})
}

// Types returns the cached types.
func (c *Cache) Types() (astroglossary.Types, error) {
	types := astroglossary.Types{}
	err := c.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx, bucketTypes, keyCollection, &types)
	})
	return types, err
}

// SetTypes replaces the cached types.
func (c *Cache) SetTypes(types astroglossary.Types) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx, bucketTypes, keyCollection, types)
	})
}

// Invalidate drops the cached posts and types. Pending operations and the session are kept.
func (c *Cache) Invalidate() error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketPosts, bucketTypes} {
			if err := tx.Bucket([]byte(name)).Delete([]byte(keyCollection)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}

	c.logger.Debug("cache invalidated", slog.String("path", c.db.Path()))
	return nil
}

// Session returns the stored session. ok is false when nobody is signed in.
func (c *Cache) Session() (session Session, ok bool, err error) {
	err = c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketSession))
		token := b.Get([]byte(keyToken))
		if token == nil {
			return nil
		}
		session.Token = string(token)
		ok = true
		return getJSON(tx, bucketSession, keyUser, &session.User)
	})
	return session, ok, err
}

// SetSession stores the signed-in user and token.
func (c *Cache) SetSession(session Session) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		if err := putJSON(tx, bucketSession, keyUser, session.User); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketSession)).Put([]byte(keyToken), []byte(session.Token))
	})
}

// ClearSession signs the user out.
func (c *Cache) ClearSession() error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketSession))
		if err := b.Delete([]byte(keyUser)); err != nil {
			return err
		}
		return b.Delete([]byte(keyToken))
	})
}

// AppendOperation appends an encoded operation to the end of the queue.
func (c *Cache) AppendOperation(data []byte) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketQueue))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// Operations returns the queued operations in insertion order.
func (c *Cache) Operations() ([][]byte, error) {
	var ops [][]byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketQueue)).ForEach(func(k, v []byte) error {
			// bbolt values are only valid for the life of the transaction
			ops = append(ops, append([]byte(nil), v...))
			return nil
		})
	})
	return ops, err
}

// ClearOperations empties the queue.
func (c *Cache) ClearOperations() error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketQueue)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketQueue))
		return err
	})
}

func (c *Cache) updatePosts(fn func([]*astroglossary.Post) ([]*astroglossary.Post, error)) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		posts := []*astroglossary.Post{}
		if err := getJSON(tx, bucketPosts, keyCollection, &posts); err != nil {
			return err
		}

		updated, err := fn(posts)
		if err != nil {
			return err
		}

		return putJSON(tx, bucketPosts, keyCollection, updated)
	})
}

func getJSON(tx *bbolt.Tx, bucket, key string, v any) error {
	data := tx.Bucket([]byte(bucket)).Get([]byte(key))
	if data == nil {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", bucket, key, err)
	}
	return nil
}

func putJSON(tx *bbolt.Tx, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", bucket, key, err)
	}
	return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
}

// itob returns an 8-byte big endian representation of v so keys sort in insertion order.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
