package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/manabu/internal/collection"
	"github.com/hyperjump/manabu/internal/embedding"
	"github.com/hyperjump/manabu/internal/indexer"
	"github.com/hyperjump/manabu/internal/keyword"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/storage"
)

type mapExtractor map[string]string

func (m mapExtractor) Extract(doc models.Document) string { return m[doc.Name] }

// newTestService wires the real collection and builder over a temporary corpus whose
// files extract to the given texts.
func newTestService(t *testing.T, texts map[string]string) (*Service, string) {
	t.Helper()
	corpus := filepath.Join(t.TempDir(), "corpus")
	if err := os.MkdirAll(corpus, 0755); err != nil {
		t.Fatal(err)
	}
	for name := range texts {
		if err := os.WriteFile(filepath.Join(corpus, name), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	persist := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(persist, storage.DatabaseFile))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	kw, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })
	coll, err := collection.Open(context.Background(), store, embedding.NewHashEmbedder(64), collection.WithKeywordIndex(kw))
	if err != nil {
		t.Fatal(err)
	}
	chunker := indexer.NewChunker(200, 40)
	idx := indexer.NewIndexer(coll, mapExtractor(texts), chunker)
	svc := NewService(coll, idx, Config{
		CorpusDir:        corpus,
		PersistDirectory: persist,
		DefaultTopK:      3,
		MaxTopK:          5,
		ChunkSize:        chunker.ChunkSize,
		ChunkOverlap:     chunker.ChunkOverlap,
	}, nil)
	return svc, corpus
}

var lessons = map[string]string{
	"biology.pdf":  "Photosynthesis converts light energy into chemical energy in the chloroplast.",
	"history.docx": "The industrial revolution began in Britain in the eighteenth century.",
	"math.doc":     "A fraction represents a part of a whole. One half equals two quarters.",
}

func TestService_SearchEmptyQuery(t *testing.T) {
	svc, _ := newTestService(t, lessons)
	for _, q := range []string{"", "   ", "\n\t"} {
		if _, err := svc.Search(context.Background(), q, 3); !errors.Is(err, models.ErrInvalidInput) {
			t.Errorf("Search(%q): expected ErrInvalidInput, got %v", q, err)
		}
	}
	if _, err := svc.Do(context.Background(), &models.SearchQuery{Query: "x", Mode: "fuzzy"}); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("unknown mode: expected ErrInvalidInput, got %v", err)
	}
}

func TestService_SearchEmptyIndex(t *testing.T) {
	svc, _ := newTestService(t, lessons)
	resp, err := svc.Search(context.Background(), "photosynthesis", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Count != 0 || resp.Results == nil || len(resp.Results) != 0 {
		t.Errorf("empty index response = %+v", resp)
	}
}

func TestService_EnsureBuiltAndSearch(t *testing.T) {
	svc, _ := newTestService(t, lessons)
	ctx := context.Background()
	built, err := svc.EnsureBuilt(ctx)
	if err != nil || !built {
		t.Fatalf("EnsureBuilt = %v, %v", built, err)
	}
	built, err = svc.EnsureBuilt(ctx)
	if err != nil || built {
		t.Errorf("second EnsureBuilt should not build: %v, %v", built, err)
	}

	resp, err := svc.Search(ctx, lessons["history.docx"], 0)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Count != 3 || len(resp.Results) != 3 {
		t.Fatalf("default top_k: count = %d", resp.Count)
	}
	if resp.Results[0].SourceName != "history.docx" || resp.Results[0].Similarity != 1 {
		t.Errorf("top result = %+v", resp.Results[0])
	}
	if resp.Query != lessons["history.docx"] {
		t.Errorf("Query echoed as %q", resp.Query)
	}

	resp, err = svc.Search(ctx, "fraction", 100)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Count > 5 {
		t.Errorf("top_k should be clamped to 5, got %d", resp.Count)
	}
}

func TestService_KeywordSearch(t *testing.T) {
	svc, _ := newTestService(t, lessons)
	ctx := context.Background()
	if _, err := svc.EnsureBuilt(ctx); err != nil {
		t.Fatal(err)
	}
	resp, err := svc.KeywordSearch(ctx, "chloroplast", 3)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 || resp.Results[0].SourceName != "biology.pdf" {
		t.Fatalf("keyword results = %+v", resp.Results)
	}
	if resp.Results[0].Distance != nil || resp.Results[0].Similarity != 1.0 {
		t.Errorf("keyword hit should carry no distance: %+v", resp.Results[0])
	}
}

func TestService_StatsAndRebuild(t *testing.T) {
	svc, corpus := newTestService(t, lessons)
	ctx := context.Background()
	if _, err := svc.EnsureBuilt(ctx); err != nil {
		t.Fatal(err)
	}
	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.CollectionName != collection.DefaultName || stats.DocumentCount != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.EmbeddingDimensions != 64 || stats.ChunkSize != 200 || stats.LastBuildID == "" || stats.LastBuildAt == nil {
		t.Errorf("stats extras = %+v", stats)
	}
	if stats.DiskUsageBytes == nil || *stats.DiskUsageBytes == 0 {
		t.Errorf("disk usage = %v", stats.DiskUsageBytes)
	}

	count, err := svc.Rebuild(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != stats.DocumentCount {
		t.Errorf("rebuild count = %d, want %d", count, stats.DocumentCount)
	}
	after, _ := svc.Stats(ctx)
	if after.LastBuildID == stats.LastBuildID {
		t.Error("rebuild should record a new build id")
	}

	if err := os.RemoveAll(corpus); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Rebuild(ctx); !errors.Is(err, models.ErrPrecondition) {
		t.Errorf("rebuild with missing corpus: %v", err)
	}
	if after, _ := svc.Stats(ctx); after.DocumentCount != count {
		t.Errorf("failed rebuild should keep the collection, count = %d", after.DocumentCount)
	}
}

func TestService_EnsureBuiltMissingCorpus(t *testing.T) {
	svc, corpus := newTestService(t, lessons)
	if err := os.RemoveAll(corpus); err != nil {
		t.Fatal(err)
	}
	built, err := svc.EnsureBuilt(context.Background())
	if err != nil || built {
		t.Errorf("EnsureBuilt with missing corpus = %v, %v", built, err)
	}
}

func TestService_LongDocumentChunks(t *testing.T) {
	long := strings.Repeat("Cells divide by mitosis and meiosis. ", 40)
	svc, _ := newTestService(t, map[string]string{"cells.pdf": long})
	ctx := context.Background()
	report, err := svc.Build(ctx)
	if err != nil {
		t.Fatal(err)
	}
	stats, _ := svc.Stats(ctx)
	if int64(report.Passages) != stats.DocumentCount || stats.DocumentCount < 2 {
		t.Errorf("passages = %d, count = %d", report.Passages, stats.DocumentCount)
	}
}
