package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/config"
	"github.com/hyperjump/manabu/internal/models"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"photosynthesis", "-top-k", "5"},
			expected: []string{"-top-k", "5", "photosynthesis"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-top-k", "5", "photosynthesis"},
			expected: []string{"-top-k", "5", "photosynthesis"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"cell division"},
			expected: []string{"cell division"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "-keyword"},
			expected: []string{"-keyword", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder(%v) = %v, want %v", tt.args, got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"fractions"}, "fractions"},
		{"multiple words", []string{"cell", "division"}, "cell division"},
		{"single quoted phrase", []string{"cell division"}, "cell division"},
		{"cjk", []string{"光合作用"}, "光合作用"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.PersistDirectory != filepath.Join(dir, "chroma_db") {
		t.Errorf("persist directory = %s, want it next to the config", cfg.Storage.PersistDirectory)
	}
}

func TestLoadConfig_rejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
chunking:
  chunk_size: 100
  chunk_overlap: 100
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := loadConfig(configPath); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")
	if err := writeDefaultConfig(path, false); err != nil {
		t.Fatalf("writeDefaultConfig: %v", err)
	}
	cfg, _, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg.Chunking.ChunkSize != 800 || cfg.Chunking.ChunkOverlap != 150 {
		t.Errorf("chunking = %+v", cfg.Chunking)
	}
	if cfg.Storage.CollectionName != "teaching_knowledge_base" {
		t.Errorf("collection = %q", cfg.Storage.CollectionName)
	}
	if err := writeDefaultConfig(path, false); err == nil {
		t.Error("expected error when the file exists")
	}
	if err := writeDefaultConfig(path, true); err != nil {
		t.Errorf("force overwrite: %v", err)
	}
}

func TestSearchViaHTTP(t *testing.T) {
	distance := 0.25
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/knowledge/search" {
			http.NotFound(w, r)
			return
		}
		var q models.SearchQuery
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if q.Query == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid input: query cannot be empty"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"query":   q.Query,
			"results": []*models.QueryResult{{
				Content:    "Plants convert light into sugar.",
				SourceName: "biology.pdf",
				SourcePath: "/corpus/biology.pdf",
				Similarity: 0.8,
				Distance:   &distance,
			}},
			"count":         1,
			"query_time_ms": 4,
		})
	}))
	defer ts.Close()

	resp, err := searchViaHTTP(ts.URL+"/", &models.SearchQuery{Query: "photosynthesis", TopK: 1})
	if err != nil {
		t.Fatalf("searchViaHTTP: %v", err)
	}
	if resp.Query != "photosynthesis" || resp.Count != 1 || len(resp.Results) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Results[0].SourceName != "biology.pdf" || resp.Results[0].Distance == nil {
		t.Errorf("unexpected result: %+v", resp.Results[0])
	}

	_, err = searchViaHTTP(ts.URL, &models.SearchQuery{Query: ""})
	if err == nil || !strings.Contains(err.Error(), "query cannot be empty") {
		t.Errorf("expected server error message, got %v", err)
	}
}

func TestStatsViaHTTP(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/knowledge/stats" {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"storage unavailable"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"stats":{"collection_name":"teaching_knowledge_base","document_count":12,"persist_directory":"/data"}}`))
	}))
	defer ts.Close()

	stats, err := statsViaHTTP(ts.URL)
	if err != nil {
		t.Fatalf("statsViaHTTP: %v", err)
	}
	if stats.CollectionName != "teaching_knowledge_base" || stats.DocumentCount != 12 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if _, err := statsViaHTTP(ts.URL + "/other"); err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("expected 503 error, got %v", err)
	}
}

func TestInitializeComponents_HashProvider(t *testing.T) {
	dir := t.TempDir()
	corpus := filepath.Join(dir, "corpus")
	if err := os.MkdirAll(corpus, 0755); err != nil {
		t.Fatal(err)
	}
	var cfg config.Config
	cfg.Corpus.Directory = corpus
	cfg.Storage.PersistDirectory = filepath.Join(dir, "store")
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dimensions = 64
	config.ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	components, err := initializeComponents(ctx, &cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("initializeComponents: %v", err)
	}
	defer components.Close()

	if components.KeywordIndex == nil {
		t.Error("keyword index should be enabled by default")
	}
	if _, err := os.Stat(cfg.Storage.DatabasePath()); err != nil {
		t.Errorf("database not created: %v", err)
	}

	report, err := components.Service.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if report.Passages != 0 {
		t.Errorf("Passages = %d, want 0 for an empty corpus", report.Passages)
	}

	resp, err := components.Service.Search(ctx, "fractions", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Count != 0 || resp.Results == nil {
		t.Errorf("expected empty non-nil results, got %+v", resp)
	}

	stats, err := components.Service.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.CollectionName != cfg.Storage.CollectionName || stats.DocumentCount != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
