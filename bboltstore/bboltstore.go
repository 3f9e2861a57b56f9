package bboltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.etcd.io/bbolt"

	"github.com/hypergopher/astroglossary"
)

const (
	bboltFile   = "astroglossary.db"
	bleveFile   = "astroglossary.bleve"
	bucketPosts = "posts"
	bucketTypes = "types"
)

// record is the value stored in the posts bucket. Seq orders posts, newest highest.
type record struct {
	Seq  uint64              `json:"seq"`
	Post *astroglossary.Post `json:"post"`
}

// indexDoc is the document indexed in bleve. Title is lower-cased so wildcard queries ignore case.
type indexDoc struct {
	Title string  `json:"title"`
	Type  string  `json:"type"`
	Seq   float64 `json:"seq"`
}

// BBoltStore is a PostStore that keeps posts in bbolt and searches them with a bleve index.
type BBoltStore struct {
	bleveIndex bleve.Index
	boltIndex  *bbolt.DB
	dataDir    string // dataDir is the directory where the bolt file and bleve index are stored.
	logger     *slog.Logger
	mu         sync.Mutex
}

// New creates a new BBoltStore instance. Call Init before use.
func New(dataDir string, logger *slog.Logger) *BBoltStore {
	if logger == nil {
		logger = defaultLogger()
	}
	return &BBoltStore{
		dataDir: dataDir,
		logger:  logger,
	}
}

// Init initializes the BBolt and Bleve indexes
func (bbs *BBoltStore) Init(ctx context.Context) error {
	if err := os.MkdirAll(bbs.dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	boltIndex, err := bbs.initBolt()
	if err != nil {
		return fmt.Errorf("failed to initialize bbolt: %w", err)
	}
	bbs.boltIndex = boltIndex

	bleveIndex, err := bbs.initBleve()
	if err != nil {
		return fmt.Errorf("failed to initialize bleve: %w", err)
	}
	bbs.bleveIndex = bleveIndex

	return nil
}

// Clear removes the bolt file and bleve index and recreates them empty.
func (bbs *BBoltStore) Clear(ctx context.Context) error {
	bbs.mu.Lock()
	defer bbs.mu.Unlock()

	if err := bbs.Close(); err != nil {
		return fmt.Errorf("failed to close indexes: %w", err)
	}

	// Remove the bolt and bleve files
	boltPath := filepath.Join(bbs.dataDir, bboltFile)
	blevePath := filepath.Join(bbs.dataDir, bleveFile)

	if err := os.Remove(boltPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove bolt file: %w", err)
	}

	if err := os.RemoveAll(blevePath); err != nil {
		return fmt.Errorf("failed to remove bleve file: %w", err)
	}

	// Reinitialize the indexes
	boltIndex, err := bbs.initBolt()
	if err != nil {
		return fmt.Errorf("failed to reinitialize bolt: %w", err)
	}

	bleveIndex, err := bbs.initBleve()
	if err != nil {
		return fmt.Errorf("failed to reinitialize bleve: %w", err)
	}

	bbs.boltIndex = boltIndex
	bbs.bleveIndex = bleveIndex

	return nil
}

// Close closes the bolt database and the bleve index.
func (bbs *BBoltStore) Close() error {
	if bbs.boltIndex != nil {
		if err := bbs.boltIndex.Close(); err != nil {
			return err
		}
		bbs.boltIndex = nil
	}

	if bbs.bleveIndex != nil {
		err := bbs.bleveIndex.Close()
		bbs.bleveIndex = nil
		return err
	}

	return nil
}

// Create stores a new post ahead of all existing posts.
func (bbs *BBoltStore) Create(ctx context.Context, post *astroglossary.Post) (*astroglossary.Post, error) {
	bbs.mu.Lock()
	defer bbs.mu.Unlock()

	var rec record
	err := bbs.boltIndex.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketPosts))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		if b.Get([]byte(post.ID)) != nil {
			return fmt.Errorf("%w: %s", astroglossary.ErrPostExists, post.ID)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		rec = record{Seq: seq, Post: post.Clone()}
		if err := putRecord(b, rec); err != nil {
			return err
		}

		return bbs.updateTypeCount(tx, post.Type, 1)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create post in bolt: %w", err)
	}

	// Index in Bleve
	if err := bbs.bleveIndex.Index(post.ID, newIndexDoc(rec)); err != nil {
		return nil, fmt.Errorf("failed to index post in bleve: %w", err)
	}

	return rec.Post.Clone(), nil
}

// Update replaces an existing post, keeping its position.
func (bbs *BBoltStore) Update(ctx context.Context, post *astroglossary.Post) error {
	bbs.mu.Lock()
	defer bbs.mu.Unlock()

	var rec record
	err := bbs.boltIndex.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketPosts))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		current, err := getRecord(b, post.ID)
		if err != nil {
			return err
		}

		if current.Post.Type != post.Type {
			if err := bbs.updateTypeCount(tx, current.Post.Type, -1); err != nil {
				return err
			}
			if err := bbs.updateTypeCount(tx, post.Type, 1); err != nil {
				return err
			}
		}

		rec = record{Seq: current.Seq, Post: post.Clone()}
		return putRecord(b, rec)
	})
	if err != nil {
		return fmt.Errorf("failed to update post in bolt: %w", err)
	}

	if err := bbs.bleveIndex.Index(post.ID, newIndexDoc(rec)); err != nil {
		return fmt.Errorf("failed to reindex post in bleve: %w", err)
	}

	return nil
}

// Delete removes a post from bolt and bleve.
func (bbs *BBoltStore) Delete(ctx context.Context, id string) error {
	bbs.mu.Lock()
	defer bbs.mu.Unlock()

	if err := bbs.boltIndex.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketPosts))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		current, err := getRecord(b, id)
		if err != nil {
			return err
		}

		if err := b.Delete([]byte(id)); err != nil {
			return fmt.Errorf("failed to delete post: %w", err)
		}

		return bbs.updateTypeCount(tx, current.Post.Type, -1)
	}); err != nil {
		return fmt.Errorf("failed to delete post from bolt: %w", err)
	}

	if err := bbs.bleveIndex.Delete(id); err != nil {
		return fmt.Errorf("failed to delete post from bleve: %w", err)
	}

	return nil
}

// Get retrieves a post by ID.
func (bbs *BBoltStore) Get(ctx context.Context, id string) (*astroglossary.Post, error) {
	var post *astroglossary.Post
	err := bbs.boltIndex.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketPosts))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		rec, err := getRecord(b, id)
		if err != nil {
			return err
		}
		post = rec.Post
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("error getting post %s: %w", id, err)
	}
	return post, nil
}

// Search runs the filter against the bleve index and loads the matching posts from bolt.
func (bbs *BBoltStore) Search(ctx context.Context, filter astroglossary.FilterOptions) ([]*astroglossary.Post, int, error) {
	filter = filter.Normalize()

	if filter.FilterTypes && len(filter.Types) == 0 {
		return []*astroglossary.Post{}, 0, nil
	}

	size := filter.Limit
	if size == astroglossary.NoLimit {
		count, err := bbs.bleveIndex.DocCount()
		if err != nil {
			return nil, 0, fmt.Errorf("error counting documents: %w", err)
		}
		size = int(count)
	}

	request := bleve.NewSearchRequestOptions(bbs.searchQuery(filter), size, filter.Offset, false)
	request.SortBy([]string{"-seq"})

	result, err := bbs.bleveIndex.SearchInContext(ctx, request)
	if err != nil {
		return nil, 0, fmt.Errorf("error searching for posts: %w", err)
	}

	posts := make([]*astroglossary.Post, 0, len(result.Hits))
	for _, hit := range result.Hits {
		post, err := bbs.Get(ctx, hit.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("error getting post %s: %w", hit.ID, err)
		}
		posts = append(posts, post)
	}

	return posts, int(result.Total), nil
}

// TypeCounts returns the number of posts per type, read from the types bucket.
func (bbs *BBoltStore) TypeCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := bbs.boltIndex.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketTypes))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		return b.ForEach(func(k, v []byte) error {
			counts[string(k)] = int(binary.BigEndian.Uint64(v))
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("error getting type counts: %w", err)
	}

	return counts, nil
}

func (bbs *BBoltStore) initBolt() (*bbolt.DB, error) {
	boltPath := filepath.Join(bbs.dataDir, bboltFile)
	boltIndex, err := bbolt.Open(boltPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt index: %w", err)
	}

	err = boltIndex.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketPosts))
		if err != nil {
			return fmt.Errorf("failed to create posts bucket: %w", err)
		}

		_, err = tx.CreateBucketIfNotExists([]byte(bucketTypes))
		if err != nil {
			return fmt.Errorf("failed to create types bucket: %w", err)
		}

		return nil
	})

	if err != nil {
		_ = boltIndex.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return boltIndex, nil
}

func (bbs *BBoltStore) initBleve() (bleve.Index, error) {
	index, err := bleve.Open(filepath.Join(bbs.dataDir, bleveFile))
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		bbs.logger.Debug("Creating new bleve index")
		indexMapping := bbs.defineBleveMapping()
		index, err = bleve.NewUsing(filepath.Join(bbs.dataDir, bleveFile), indexMapping, bleve.Config.DefaultIndexType, bleve.Config.DefaultKVStore, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create bleve index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open bleve index: %w", err)
	}

	return index, nil
}

func (bbs *BBoltStore) defineBleveMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentStaticMapping()

	// Keyword fields keep the whole value as one term, so a regexp can match a substring of the title
	docMapping.AddFieldMappingsAt("title", bleve.NewKeywordFieldMapping())
	docMapping.AddFieldMappingsAt("type", bleve.NewKeywordFieldMapping())
	docMapping.AddFieldMappingsAt("seq", bleve.NewNumericFieldMapping())

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

func (bbs *BBoltStore) searchQuery(filter astroglossary.FilterOptions) query.Query {
	queries := make([]query.Query, 0, 2)

	if filter.Search != "" {
		// Regexp queries match whole terms, and the title is indexed as a single keyword
		titleQuery := bleve.NewRegexpQuery(".*" + regexp.QuoteMeta(strings.ToLower(filter.Search)) + ".*")
		titleQuery.SetField("title")
		queries = append(queries, titleQuery)
	}

	if filter.FilterTypes {
		typeQueries := make([]query.Query, 0, len(filter.Types))
		for _, t := range filter.Types {
			typeQuery := bleve.NewTermQuery(t)
			typeQuery.SetField("type")
			typeQueries = append(typeQueries, typeQuery)
		}
		queries = append(queries, bleve.NewDisjunctionQuery(typeQueries...))
	}

	if len(queries) == 0 {
		return bleve.NewMatchAllQuery()
	}

	return bleve.NewConjunctionQuery(queries...)
}

func (bbs *BBoltStore) updateTypeCount(tx *bbolt.Tx, postType string, delta int) error {
	b := tx.Bucket([]byte(bucketTypes))
	if b == nil {
		return fmt.Errorf("bucket not found")
	}

	count := 0
	key := []byte(postType)
	countBytes := b.Get(key)
	if countBytes != nil {
		count = int(binary.BigEndian.Uint64(countBytes))
	}

	count += delta
	if count <= 0 {
		return b.Delete(key)
	}

	newCount := make([]byte, 8)
	binary.BigEndian.PutUint64(newCount, uint64(count))
	return b.Put(key, newCount)
}

func getRecord(b *bbolt.Bucket, id string) (record, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return record{}, fmt.Errorf("%w: %s", astroglossary.ErrPostNotFound, id)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("error deserializing post: %w", err)
	}
	return rec, nil
}

func putRecord(b *bbolt.Bucket, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize post: %w", err)
	}

	if err := b.Put([]byte(rec.Post.ID), data); err != nil {
		return fmt.Errorf("failed to put post in bucket: %w", err)
	}
	return nil
}

func newIndexDoc(rec record) indexDoc {
	return indexDoc{
		Title: strings.ToLower(rec.Post.Title),
		Type:  rec.Post.Type,
		Seq:   float64(rec.Seq),
	}
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{
			AddSource: false,
			Level:     slog.LevelDebug,
		}))
}
