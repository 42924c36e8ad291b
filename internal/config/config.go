// Package config provides configuration loading and structs for the knowledge service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/manabu/internal/models"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MANABU_"

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Storage   StorageConfig   `yaml:"storage"`
	Search    SearchConfig    `yaml:"search"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// CorpusConfig describes the document directory.
type CorpusConfig struct {
	Directory  string   `yaml:"directory"`
	Extensions []string `yaml:"extensions"`
	// Watch rebuilds the collection when files under Directory change.
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce"`
}

// ChunkingConfig holds passage splitting settings, in characters.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// StorageConfig holds the persistence location.
type StorageConfig struct {
	PersistDirectory string `yaml:"persist_directory"`
	CollectionName   string `yaml:"collection_name"`
	// KeywordIndex keeps a Bleve full-text index next to the database. Defaults to true.
	KeywordIndex *bool `yaml:"keyword_index"`
}

// KeywordIndexEnabled reports whether the keyword index is on; true when unset.
func (s *StorageConfig) KeywordIndexEnabled() bool {
	return s.KeywordIndex == nil || *s.KeywordIndex
}

// DatabasePath is the SQLite file inside the persist directory.
func (s *StorageConfig) DatabasePath() string {
	return filepath.Join(s.PersistDirectory, "manabu.db")
}

// KeywordIndexPath is the Bleve directory for the collection.
func (s *StorageConfig) KeywordIndexPath() string {
	return filepath.Join(s.PersistDirectory, s.CollectionName+".bleve")
}

// SearchConfig holds search settings.
type SearchConfig struct {
	DefaultTopK        int     `yaml:"default_top_k"`
	MaxTopK            int     `yaml:"max_top_k"`
	KeywordSourceBoost float64 `yaml:"keyword_source_boost"`
	KeywordPhraseBoost float64 `yaml:"keyword_phrase_boost"`
	KeywordFuzzy       bool    `yaml:"keyword_fuzzy"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	// Provider is "onnx", "hash", or "auto" (onnx, falling back to hash when the model is unavailable).
	Provider    string `yaml:"provider"`
	ModelPath   string `yaml:"model_path"`
	LibraryPath string `yaml:"library_path"`
	Dimensions  int    `yaml:"dimensions"`
	MaxTokens   int    `yaml:"max_tokens"`
	CacheSize   int    `yaml:"cache_size"`
	BatchSize   int    `yaml:"batch_size"`
}

// Load reads the config file at path, loads .env files, applies environment overrides and
// defaults, and expands paths. A missing file yields the defaults; an empty path looks for
// nothing and resolves relative paths against the working directory.
func Load(path string) (*Config, error) {
	var cfg Config
	baseDir, _ := os.Getwd()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
		if abs, err := filepath.Abs(filepath.Dir(path)); err == nil {
			baseDir = abs
		}
	}

	if err := loadDotEnv(baseDir); err != nil {
		return nil, err
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)

	cfg.Corpus.Directory = expandPath(cfg.Corpus.Directory, baseDir)
	cfg.Storage.PersistDirectory = expandPath(cfg.Storage.PersistDirectory, baseDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, baseDir)
	if cfg.Embedding.LibraryPath != "" {
		cfg.Embedding.LibraryPath = expandPath(cfg.Embedding.LibraryPath, baseDir)
	}
	return &cfg, nil
}

// loadDotEnv loads .env from the config directory and the working directory. Variables
// already set in the environment win.
func loadDotEnv(dirs ...string) error {
	files := []string{".env"}
	for _, d := range dirs {
		files = append(files, filepath.Join(d, ".env"))
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// applyEnv overrides cfg from MANABU_* variables.
func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"CORPUS_DIR":  &cfg.Corpus.Directory,
		"PERSIST_DIR": &cfg.Storage.PersistDirectory,
		"COLLECTION":  &cfg.Storage.CollectionName,
		"MODEL_PATH":  &cfg.Embedding.ModelPath,
		"ORT_LIBRARY": &cfg.Embedding.LibraryPath,
		"EMBEDDER":    &cfg.Embedding.Provider,
		"HOST":        &cfg.Server.Host,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CHUNK_SIZE":    &cfg.Chunking.ChunkSize,
		"CHUNK_OVERLAP": &cfg.Chunking.ChunkOverlap,
		"TOP_K":         &cfg.Search.DefaultTopK,
		"BATCH_SIZE":    &cfg.Embedding.BatchSize,
		"PORT":          &cfg.Server.Port,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not an integer", models.ErrInvalidInput, EnvPrefix, key, v)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"WATCH": &cfg.Corpus.Watch,
		"DEBUG": &cfg.Debug,
	}
	for key, dst := range bools {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not a boolean", models.ErrInvalidInput, EnvPrefix, key, v)
		}
		*dst = b
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Chunking.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive, got %d", c.Chunking.ChunkSize))
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		errs = append(errs, fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.Chunking.ChunkOverlap))
	}
	if c.Search.DefaultTopK <= 0 {
		errs = append(errs, fmt.Errorf("default_top_k must be positive, got %d", c.Search.DefaultTopK))
	}
	if c.Search.MaxTopK < c.Search.DefaultTopK {
		errs = append(errs, fmt.Errorf("max_top_k %d is below default_top_k %d", c.Search.MaxTopK, c.Search.DefaultTopK))
	}
	if strings.TrimSpace(c.Storage.CollectionName) == "" {
		errs = append(errs, errors.New("collection_name is required"))
	}
	switch c.Embedding.Provider {
	case "auto", "onnx", "hash":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", models.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. "~/" is the home directory; other relative paths
// are relative to baseDir.
func expandPath(path string, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return filepath.Join(baseDir, path)
}
