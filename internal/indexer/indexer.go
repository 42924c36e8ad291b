// Package indexer builds the passage collection from a directory of teaching documents.
package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/models"
)

// PassageStore is the part of the embedding collection the builder writes to.
type PassageStore interface {
	Insert(ctx context.Context, passages []models.Passage) error
	Clear(ctx context.Context) error
	RecordBuild(ctx context.Context, buildID string, at time.Time) error
}

// TextExtractor turns a document into text. It returns "" when nothing can be read.
type TextExtractor interface {
	Extract(doc models.Document) string
}

// Indexer walks a corpus directory and feeds its passages into a PassageStore.
type Indexer struct {
	store      PassageStore
	extractor  TextExtractor
	chunker    *Chunker
	extensions []string
	logger     *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for build progress and warnings.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithExtensions overrides the set of file extensions picked up by the walk.
func WithExtensions(exts []string) IndexerOption {
	return func(idx *Indexer) {
		if len(exts) > 0 {
			idx.extensions = exts
		}
	}
}

// NewIndexer creates an indexer with the given dependencies.
func NewIndexer(store PassageStore, extractor TextExtractor, chunker *Chunker, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		store:      store,
		extractor:  extractor,
		chunker:    chunker,
		extensions: models.SupportedExtensions,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Build indexes every supported document under root and returns a report whose Passages
// field is the number of passages inserted. A missing root fails with models.ErrPrecondition.
// Documents that yield no text are logged and skipped.
func (idx *Indexer) Build(ctx context.Context, root string) (*models.BuildReport, error) {
	start := time.Now()
	buildID := uuid.New().String()
	log := idx.logger.With(zap.String("build_id", buildID))

	absRoot, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}

	log.Info("building corpus", zap.String("path", absRoot))
	report := &models.BuildReport{BuildID: buildID}
	var passages []models.Passage
	seen := make(map[string]string)

	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			log.Warn("skipping unreadable entry", zap.String("path", path), zap.Error(walkErr))
			if d != nil && d.IsDir() && path != absRoot {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !extensionAllowed(filepath.Ext(path), idx.extensions) {
			return nil
		}
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}

		doc := models.NewDocument(path)
		if doc.Kind == models.KindUnsupported {
			return nil
		}
		if prev, ok := seen[doc.Name]; ok {
			log.Warn("duplicate document name, passages will overwrite each other",
				zap.String("name", doc.Name), zap.String("path", path), zap.String("previous", prev))
		}
		seen[doc.Name] = path

		text := Normalize(idx.extractor.Extract(doc))
		docPassages := idx.chunker.Passages(doc, text)
		if len(docPassages) == 0 {
			log.Warn("no text extracted, skipping", zap.String("path", path))
			report.Skipped++
			return nil
		}
		log.Debug("document chunked", zap.String("path", path), zap.Int("count", len(docPassages)))
		passages = append(passages, docPassages...)
		report.Files++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", absRoot, err)
	}

	if len(passages) > 0 {
		if err := idx.store.Insert(ctx, passages); err != nil {
			return nil, fmt.Errorf("insert passages: %w", err)
		}
	} else {
		log.Warn("no passages produced", zap.String("path", absRoot))
	}
	if err := idx.store.RecordBuild(ctx, buildID, time.Now()); err != nil {
		log.Warn("record build failed", zap.Error(err))
	}

	report.Passages = len(passages)
	report.Duration = time.Since(start)
	log.Info("corpus built",
		zap.Int("files", report.Files),
		zap.Int("skipped", report.Skipped),
		zap.Int("count", report.Passages),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// Rebuild clears the store and builds again. The root is checked before clearing. It is not
// atomic: a build failing after the clear leaves the store empty or partially filled until
// the next rebuild.
func (idx *Indexer) Rebuild(ctx context.Context, root string) (*models.BuildReport, error) {
	if _, err := resolveRoot(root); err != nil {
		return nil, err
	}
	if err := idx.store.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear collection: %w", err)
	}
	report, err := idx.Build(ctx, root)
	if err != nil {
		idx.logger.Error("rebuild failed after clear", zap.Error(err))
	}
	return report, err
}

// resolveRoot returns the absolute corpus root, or models.ErrPrecondition when it is not a directory.
func resolveRoot(root string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return "", fmt.Errorf("%w: corpus directory %s: %v", models.ErrPrecondition, absRoot, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: not a directory: %s", models.ErrPrecondition, absRoot)
	}
	return absRoot, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
