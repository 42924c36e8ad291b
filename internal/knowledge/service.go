// Package knowledge is the retrieval API: search, stats and rebuild over one collection.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/keyword"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/storage"
)

// Index is the part of the embedding collection the service reads.
type Index interface {
	Name() string
	Dimensions() int
	Query(ctx context.Context, text string, topK int) ([]*models.QueryResult, error)
	KeywordQuery(ctx context.Context, text string, topK int, opts *keyword.SearchOptions) ([]*models.QueryResult, error)
	Count(ctx context.Context) (int64, error)
	LastBuild() (string, *time.Time)
}

// Builder fills the collection from the corpus directory.
type Builder interface {
	Build(ctx context.Context, root string) (*models.BuildReport, error)
	Rebuild(ctx context.Context, root string) (*models.BuildReport, error)
}

// Config holds the service settings.
type Config struct {
	CorpusDir        string
	PersistDirectory string
	DefaultTopK      int
	MaxTopK          int
	ChunkSize        int
	ChunkOverlap     int
	// Keyword tunes keyword-mode searches. Nil uses plain match scoring.
	Keyword *keyword.SearchOptions
}

// Service answers retrieval requests. Mutations are serialised; searches run concurrently.
type Service struct {
	mu      sync.Mutex
	index   Index
	builder Builder
	cfg     Config
	logger  *zap.Logger
}

// NewService creates a retrieval service.
func NewService(index Index, builder Builder, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 3
	}
	return &Service{index: index, builder: builder, cfg: cfg, logger: logger}
}

// Search runs a semantic search. An empty query is models.ErrInvalidInput; topK <= 0 uses
// the configured default.
func (s *Service) Search(ctx context.Context, query string, topK int) (*models.SearchResponse, error) {
	return s.Do(ctx, &models.SearchQuery{Query: query, TopK: topK, Mode: models.ModeSemantic})
}

// KeywordSearch runs a full-text search with the same contract as Search.
func (s *Service) KeywordSearch(ctx context.Context, query string, topK int) (*models.SearchResponse, error) {
	return s.Do(ctx, &models.SearchQuery{Query: query, TopK: topK, Mode: models.ModeKeyword})
}

// Do validates q and dispatches it to the index selected by its mode.
func (s *Service) Do(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := q.Validate(s.cfg.DefaultTopK, s.cfg.MaxTopK); err != nil {
		return nil, err
	}

	var (
		results []*models.QueryResult
		err     error
	)
	switch q.Mode {
	case models.ModeKeyword:
		results, err = s.index.KeywordQuery(ctx, q.Query, q.TopK, s.cfg.Keyword)
	default:
		results, err = s.index.Query(ctx, q.Query, q.TopK)
	}
	if err != nil {
		s.logger.Error("search failed", zap.String("query", q.Query), zap.String("mode", string(q.Mode)), zap.Error(err))
		return nil, err
	}
	if results == nil {
		results = []*models.QueryResult{}
	}
	resp := &models.SearchResponse{
		Query:     q.Query,
		Results:   results,
		Count:     len(results),
		QueryTime: time.Since(start).Milliseconds(),
	}
	s.logger.Debug("search",
		zap.String("mode", string(q.Mode)), zap.Int("count", resp.Count), zap.Int64("query_time_ms", resp.QueryTime))
	return resp, nil
}

// Stats reports the collection name, record count and persistence details.
func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	count, err := s.index.Count(ctx)
	if err != nil {
		return nil, err
	}
	stats := &models.Stats{
		CollectionName:      s.index.Name(),
		DocumentCount:       count,
		PersistDirectory:    s.cfg.PersistDirectory,
		EmbeddingDimensions: s.index.Dimensions(),
		ChunkSize:           s.cfg.ChunkSize,
		ChunkOverlap:        s.cfg.ChunkOverlap,
	}
	stats.LastBuildID, stats.LastBuildAt = s.index.LastBuild()
	if s.cfg.PersistDirectory != "" {
		if n, err := storage.DiskUsageBytes(s.cfg.PersistDirectory); err == nil {
			stats.DiskUsageBytes = &n
		} else {
			s.logger.Debug("disk usage unavailable", zap.Error(err))
		}
	}
	return stats, nil
}

// Build adds the corpus to the collection without clearing it.
func (s *Service) Build(ctx context.Context) (*models.BuildReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.builder.Build(ctx, s.cfg.CorpusDir)
}

// Rebuild clears the collection, indexes the corpus again and returns the record count.
// A rebuild requested while another is running waits for it.
func (s *Service) Rebuild(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, err := s.builder.Rebuild(ctx, s.cfg.CorpusDir)
	if err != nil {
		return 0, fmt.Errorf("rebuild: %w", err)
	}
	s.logger.Info("rebuild complete", zap.String("build_id", report.BuildID), zap.Int("count", report.Passages))
	return s.index.Count(ctx)
}

// EnsureBuilt builds the collection when it is empty. A missing corpus directory is logged
// and leaves the collection empty. It reports whether a build ran.
func (s *Service) EnsureBuilt(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count, err := s.index.Count(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		s.logger.Info("collection ready", zap.String("collection", s.index.Name()), zap.Int64("count", count))
		return false, nil
	}
	s.logger.Info("collection is empty, building", zap.String("path", s.cfg.CorpusDir))
	if _, err := s.builder.Build(ctx, s.cfg.CorpusDir); err != nil {
		if errors.Is(err, models.ErrPrecondition) {
			s.logger.Warn("corpus directory unavailable", zap.String("path", s.cfg.CorpusDir), zap.Error(err))
			return false, nil
		}
		return false, err
	}
	return true, nil
}
