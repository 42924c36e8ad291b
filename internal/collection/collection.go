// Package collection is the persistent embedding index: passages, their vectors,
// and a keyword index, kept in step under one lock.
package collection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/embedding"
	"github.com/hyperjump/manabu/internal/keyword"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/storage"
	"github.com/hyperjump/manabu/internal/vector"
)

const (
	// DefaultName is the collection name used when none is configured.
	DefaultName = "teaching_knowledge_base"
	// DefaultBatchSize is the number of passages embedded and written per batch.
	DefaultBatchSize = 32
)

// Collection stores passages with their embeddings and answers nearest-neighbour queries.
// Queries run concurrently; each insert batch is published under the write lock.
type Collection struct {
	mu        sync.RWMutex
	name      string
	store     storage.Storage
	embedder  embedding.Embedder
	vectors   *vector.MemoryIndex
	keyword   keyword.KeywordIndex
	meta      *storage.CollectionMeta
	batchSize int
	logger    *zap.Logger
}

// Option configures a Collection.
type Option func(*Collection)

// WithName sets the collection name.
func WithName(name string) Option {
	return func(c *Collection) {
		if name != "" {
			c.name = name
		}
	}
}

// WithBatchSize sets how many passages are embedded and written together.
func WithBatchSize(n int) Option {
	return func(c *Collection) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithKeywordIndex attaches a full-text index kept in step with the records.
func WithKeywordIndex(k keyword.KeywordIndex) Option {
	return func(c *Collection) { c.keyword = k }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Collection) { c.logger = l }
}

// Open loads or creates the named collection in store. Existing vectors are loaded into
// memory. Opening a collection built with a different embedding dimensionality fails with
// models.ErrEmbeddingMismatch.
func Open(ctx context.Context, store storage.Storage, embedder embedding.Embedder, opts ...Option) (*Collection, error) {
	c := &Collection{
		name:      DefaultName,
		store:     store,
		embedder:  embedder,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	dims := embedder.Dimensions()
	vectors, err := vector.NewMemoryIndex(dims)
	if err != nil {
		return nil, fmt.Errorf("%w: embedder %s: %v", models.ErrStorageUnavailable, embedder.Name(), err)
	}
	c.vectors = vectors

	meta, err := store.GetCollection(ctx, c.name)
	switch {
	case errors.Is(err, storage.ErrCollectionNotFound):
		meta, err = store.CreateCollection(ctx, c.name, dims, embedder.Name())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
		}
		c.logger.Info("created collection", zap.String("collection", c.name), zap.Int("dimensions", dims))
	case err != nil:
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	case meta.Dimensions != dims:
		return nil, fmt.Errorf("%w: collection %s has %d dimensions (%s), embedder %s has %d",
			models.ErrEmbeddingMismatch, c.name, meta.Dimensions, meta.Embedder, embedder.Name(), dims)
	case meta.Embedder != embedder.Name():
		c.logger.Warn("collection was built with a different embedder",
			zap.String("collection", c.name), zap.String("stored", meta.Embedder), zap.String("current", embedder.Name()))
	}
	c.meta = meta

	if err := c.load(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// load fills the vector index from the store and re-populates the keyword index when
// its size disagrees with the record count.
func (c *Collection) load(ctx context.Context) error {
	records, err := c.store.ListRecords(ctx, c.meta.ID)
	if err != nil {
		return fmt.Errorf("%w: load records: %v", models.ErrStorageUnavailable, err)
	}
	ids := make([]string, len(records))
	vecs := make([][]float32, len(records))
	for i := range records {
		ids[i] = records[i].ID()
		vecs[i] = records[i].Embedding
	}
	if err := c.vectors.Upsert(ctx, ids, vecs); err != nil {
		return fmt.Errorf("%w: load vectors: %v", models.ErrEmbeddingMismatch, err)
	}

	if c.keyword != nil {
		n, err := c.keyword.DocCount()
		if err != nil || n != uint64(len(records)) {
			c.logger.Info("re-populating keyword index",
				zap.String("collection", c.name), zap.Uint64("indexed", n), zap.Int("count", len(records)))
			if err := c.keyword.Reset(ctx); err != nil {
				return fmt.Errorf("%w: reset keyword index: %v", models.ErrStorageUnavailable, err)
			}
			passages := make([]models.Passage, len(records))
			for i := range records {
				passages[i] = records[i].Passage
			}
			if err := c.keyword.IndexPassages(ctx, passages); err != nil {
				return fmt.Errorf("%w: keyword index: %v", models.ErrStorageUnavailable, err)
			}
		}
	}
	c.logger.Debug("collection loaded", zap.String("collection", c.name), zap.Int("count", len(records)))
	return nil
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Dimensions returns the embedding dimensionality.
func (c *Collection) Dimensions() int {
	return c.vectors.Dimensions()
}

// Insert embeds passages in batches and upserts them by identity. Each batch is written in
// one transaction and then published to the in-memory indexes. A later passage with the
// same identity replaces an earlier one.
func (c *Collection) Insert(ctx context.Context, passages []models.Passage) error {
	for start := 0; start < len(passages); start += c.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + c.batchSize
		if end > len(passages) {
			end = len(passages)
		}
		if err := c.insertBatch(ctx, passages[start:end]); err != nil {
			return err
		}
		c.logger.Debug("batch inserted", zap.String("collection", c.name), zap.Int("count", end))
	}
	return nil
}

func (c *Collection) insertBatch(ctx context.Context, batch []models.Passage) error {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Content
	}
	embeddings, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	if len(embeddings) != len(batch) {
		return fmt.Errorf("embed batch: got %d embeddings for %d passages", len(embeddings), len(batch))
	}

	// Within a batch the last occurrence of an identity wins.
	records := make([]models.Record, 0, len(batch))
	at := make(map[string]int, len(batch))
	for i := range batch {
		rec := models.Record{Passage: batch[i], Embedding: embeddings[i]}
		if j, ok := at[rec.ID()]; ok {
			records[j] = rec
			continue
		}
		at[rec.ID()] = len(records)
		records = append(records, rec)
	}
	ids := make([]string, len(records))
	vecs := make([][]float32, len(records))
	passages := make([]models.Passage, len(records))
	for i := range records {
		if len(records[i].Embedding) != c.vectors.Dimensions() {
			return fmt.Errorf("%w: embedding has %d dimensions, collection has %d",
				models.ErrEmbeddingMismatch, len(records[i].Embedding), c.vectors.Dimensions())
		}
		ids[i] = records[i].ID()
		vecs[i] = records[i].Embedding
		passages[i] = records[i].Passage
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.UpsertRecords(ctx, c.meta.ID, records); err != nil {
		return fmt.Errorf("%w: write records: %v", models.ErrStorageUnavailable, err)
	}
	if err := c.vectors.Upsert(ctx, ids, vecs); err != nil {
		return fmt.Errorf("vector index: %w", err)
	}
	if c.keyword != nil {
		if err := c.keyword.IndexPassages(ctx, passages); err != nil {
			// The keyword index is rebuilt from the records on the next open.
			c.logger.Warn("keyword index update failed", zap.String("collection", c.name), zap.Error(err))
		}
	}
	return nil
}

// Query returns up to topK passages nearest to text, by ascending squared-L2 distance with
// ties broken by identity. An empty collection yields no results and no error.
func (c *Collection) Query(ctx context.Context, text string, topK int) ([]*models.QueryResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", models.ErrInvalidInput, topK)
	}
	query, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	hits, err := c.vectors.Search(ctx, query, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingMismatch, err)
	}
	ids := make([]string, len(hits))
	distances := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		distances[h.ID] = h.Distance
	}
	return c.resolve(ctx, ids, func(id string) *float64 {
		d := distances[id]
		return &d
	})
}

// KeywordQuery runs a full-text query. Results carry no distance.
func (c *Collection) KeywordQuery(ctx context.Context, text string, topK int, opts *keyword.SearchOptions) ([]*models.QueryResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", models.ErrInvalidInput, topK)
	}
	if c.keyword == nil {
		return nil, fmt.Errorf("%w: keyword index is not enabled", models.ErrPrecondition)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	hits, err := c.keyword.Search(ctx, text, topK, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: keyword search: %v", models.ErrStorageUnavailable, err)
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return c.resolve(ctx, ids, func(string) *float64 { return nil })
}

// resolve loads passages for ids and returns results in the order of ids. Caller holds the read lock.
func (c *Collection) resolve(ctx context.Context, ids []string, distance func(id string) *float64) ([]*models.QueryResult, error) {
	results := make([]*models.QueryResult, 0, len(ids))
	if len(ids) == 0 {
		return results, nil
	}
	records, err := c.store.GetRecords(ctx, c.meta.ID, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: read records: %v", models.ErrStorageUnavailable, err)
	}
	byID := make(map[string]*models.Passage, len(records))
	for i := range records {
		byID[records[i].ID()] = &records[i].Passage
	}
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			c.logger.Warn("indexed passage missing from store", zap.String("id", id))
			continue
		}
		results = append(results, models.NewQueryResult(p, distance(id)))
	}
	return results, nil
}

// Count returns the number of stored records.
func (c *Collection) Count(ctx context.Context) (int64, error) {
	c.mu.RLock()
	id := c.meta.ID
	c.mu.RUnlock()
	n, err := c.store.CountRecords(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", models.ErrStorageUnavailable, err)
	}
	return n, nil
}

// Clear removes every record and recreates the collection empty under the same name.
// Clearing an empty collection is a no-op.
func (c *Collection) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.DropCollection(ctx, c.name); err != nil {
		return fmt.Errorf("%w: drop collection: %v", models.ErrStorageUnavailable, err)
	}
	meta, err := c.store.CreateCollection(ctx, c.name, c.vectors.Dimensions(), c.embedder.Name())
	if err != nil {
		return fmt.Errorf("%w: recreate collection: %v", models.ErrStorageUnavailable, err)
	}
	c.meta = meta
	c.vectors.Reset()
	if c.keyword != nil {
		if err := c.keyword.Reset(ctx); err != nil {
			return fmt.Errorf("%w: reset keyword index: %v", models.ErrStorageUnavailable, err)
		}
	}
	c.logger.Info("collection cleared", zap.String("collection", c.name))
	return nil
}

// RecordBuild stores the identifier and time of the latest build.
func (c *Collection) RecordBuild(ctx context.Context, buildID string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetLastBuild(ctx, c.meta.ID, buildID, at); err != nil {
		return fmt.Errorf("%w: record build: %v", models.ErrStorageUnavailable, err)
	}
	c.meta.LastBuildID.String, c.meta.LastBuildID.Valid = buildID, true
	c.meta.LastBuildAt.Time, c.meta.LastBuildAt.Valid = at.UTC(), true
	return nil
}

// LastBuild returns the latest build identifier and time, if any.
func (c *Collection) LastBuild() (string, *time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.meta.LastBuildID.Valid {
		return "", nil
	}
	var at *time.Time
	if c.meta.LastBuildAt.Valid {
		t := c.meta.LastBuildAt.Time
		at = &t
	}
	return c.meta.LastBuildID.String, at
}
