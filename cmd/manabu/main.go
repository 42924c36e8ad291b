// Package main is the Manabu CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/cli"
	"github.com/hyperjump/manabu/internal/collection"
	"github.com/hyperjump/manabu/internal/config"
	"github.com/hyperjump/manabu/internal/embedding"
	"github.com/hyperjump/manabu/internal/extract"
	"github.com/hyperjump/manabu/internal/indexer"
	"github.com/hyperjump/manabu/internal/keyword"
	"github.com/hyperjump/manabu/internal/knowledge"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/server"
	"github.com/hyperjump/manabu/internal/storage"
	"github.com/hyperjump/manabu/internal/watcher"
	"github.com/hyperjump/manabu/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/manabu/config.yaml"

// loadConfig loads config from path. When path is the default and config.yaml exists in the
// working directory, that file is used instead. Returns the config and the path actually read.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "build":
		runBuild(false)
	case "rebuild":
		runBuild(true)
	case "stats":
		runStats()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("manabu version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	watch := fs.Bool("watch", false, "rebuild when files in the corpus directory change")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("corpus", cfg.Corpus.Directory),
		zap.String("persist_directory", cfg.Storage.PersistDirectory),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if _, err := components.Service.EnsureBuilt(context.Background()); err != nil {
		logger.Fatal("Initial build failed", zap.Error(err))
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Corpus.Watch || *watch {
		svc := components.Service
		watchSvc := watcher.NewWatcher(
			cfg.Corpus.Directory,
			cfg.Corpus.Extensions,
			func(paths []string) {
				logger.Info("corpus changed, rebuilding", zap.Int("files", len(paths)))
				// Not tied to watchCtx: Stop waits for this rebuild instead of cutting it short.
				if _, err := svc.Rebuild(context.Background()); err != nil {
					logger.Warn("watch rebuild failed", zap.Error(err))
				}
			},
			watcher.WithLogger(logger),
			watcher.WithDebounce(cfg.Corpus.Debounce),
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}

	srv := server.NewServer(components.Service, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: manabu search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  manabu search photosynthesis in plants
  manabu search -top-k 5 "光合作用"
  manabu search -keyword -output json fractions
  manabu search -server http://localhost:5001 cell division
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries work with or
// without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags that appear after the query to the front so that
// flag.Parse sees them; the flag package stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL; empty searches the local collection directly")
	topK := fs.Int("top-k", 0, "number of results (0 = configured default)")
	kw := fs.Bool("keyword", false, "use the keyword index instead of semantic search")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	query := &models.SearchQuery{Query: queryStr, TopK: *topK, Mode: models.ModeSemantic}
	if *kw {
		query.Mode = models.ModeKeyword
	}

	var response *models.SearchResponse
	if *serverURL != "" {
		// The server holds the database; querying it avoids opening the Bleve index twice.
		response, err = searchViaHTTP(*serverURL, query)
	} else {
		response, err = withService(*configPath, func(ctx context.Context, svc *knowledge.Service) (*models.SearchResponse, error) {
			return svc.Do(ctx, query)
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// apiError is the error body returned by the HTTP API.
type apiError struct {
	Error string `json:"error"`
}

// decodeAPIResponse decodes a successful response into v, or returns the server's error message.
func decodeAPIResponse(resp *http.Response, v interface{}) error {
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		var apiErr apiError
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	endpoint := strings.TrimRight(serverURL, "/") + "/api/knowledge/search"
	resp, err := http.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Query     string                `json:"query"`
		Results   []*models.QueryResult `json:"results"`
		Count     int                   `json:"count"`
		QueryTime int64                 `json:"query_time_ms"`
	}
	if err := decodeAPIResponse(resp, &out); err != nil {
		return nil, err
	}
	return &models.SearchResponse{
		Query:     out.Query,
		Results:   out.Results,
		Count:     out.Count,
		QueryTime: out.QueryTime,
	}, nil
}

func statsViaHTTP(serverURL string) (*models.Stats, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/knowledge/stats")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var out struct {
		Stats *models.Stats `json:"stats"`
	}
	if err := decodeAPIResponse(resp, &out); err != nil {
		return nil, err
	}
	if out.Stats == nil {
		return nil, errors.New("response has no stats")
	}
	return out.Stats, nil
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL; empty reads the local collection directly")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var stats *models.Stats
	if *serverURL != "" {
		stats, err = statsViaHTTP(*serverURL)
	} else {
		stats, err = withService(*configPath, func(ctx context.Context, svc *knowledge.Service) (*models.Stats, error) {
			return svc.Stats(ctx)
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteStats(os.Stdout, stats, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// runBuild indexes the corpus into the collection. With rebuild the collection is cleared first.
func runBuild(rebuild bool) {
	name := "build"
	if rebuild {
		name = "rebuild"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	corpus := fs.String("corpus", "", "corpus directory (overrides config)")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *corpus != "" {
		abs, absErr := filepath.Abs(*corpus)
		if absErr != nil {
			fmt.Printf("Invalid corpus path: %v\n", absErr)
			os.Exit(1)
		}
		cfg.Corpus.Directory = abs
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	if rebuild {
		count, err := components.Service.Rebuild(ctx)
		if err != nil {
			fmt.Printf("Rebuild failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Rebuilt %s: %d passages\n", cfg.Storage.CollectionName, count)
		return
	}
	report, err := components.Service.Build(ctx)
	if err != nil {
		fmt.Printf("Build failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Built %s: %d passages from %d files (%d skipped) in %s\n",
		cfg.Storage.CollectionName, report.Passages, report.Files, report.Skipped, report.Duration.Round(time.Millisecond))
}

// runInit writes a config file populated with the defaults.
func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	output := fs.String("output", "config.yaml", "path of the config file to write")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(os.Args[2:])

	if err := writeDefaultConfig(*output, *force); err != nil {
		fmt.Printf("Init failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config written to %s\n", *output)
}

// writeDefaultConfig saves a config holding only defaults. Paths stay relative so the file
// is portable; Load resolves them against the config's directory.
func writeDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use -force to overwrite)", path)
		}
	}
	var cfg config.Config
	config.ApplyDefaults(&cfg)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	return config.Save(path, &cfg)
}

// withService loads config, builds the components, runs fn and tears everything down.
func withService[T any](configPath string, fn func(context.Context, *knowledge.Service) (T, error)) (T, error) {
	var zero T
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return zero, fmt.Errorf("load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return zero, fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return zero, err
	}
	defer components.Close()
	return fn(ctx, components.Service)
}

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	KeywordIndex keyword.KeywordIndex
	Collection   *collection.Collection
	Indexer      *indexer.Indexer
	Service      *knowledge.Service
}

// Close releases the storage, keyword index, and shared embedder.
func (c *Components) Close() {
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	_ = embedding.CloseShared()
}

// newEmbedder returns a loader for the configured provider. "auto" tries the ONNX model and
// falls back to the hash embedder when the model or runtime is unavailable.
func newEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) embedding.Loader {
	return func() (embedding.Embedder, error) {
		var emb embedding.Embedder
		switch cfg.Provider {
		case "hash":
			emb = embedding.NewHashEmbedder(cfg.Dimensions)
		default:
			onnx, err := embedding.NewONNXEmbedder(embedding.ONNXConfig{
				ModelPath:   cfg.ModelPath,
				LibraryPath: cfg.LibraryPath,
				Dimensions:  cfg.Dimensions,
				MaxTokens:   cfg.MaxTokens,
			})
			switch {
			case err == nil:
				emb = onnx
			case cfg.Provider == "onnx":
				return nil, fmt.Errorf("load onnx model: %w", err)
			default:
				logger.Warn("onnx embedder unavailable, using hash embedder",
					zap.String("model_path", cfg.ModelPath), zap.Error(err))
				emb = embedding.NewHashEmbedder(cfg.Dimensions)
			}
		}
		if cfg.CacheSize > 0 {
			emb = embedding.NewCachedEmbedder(emb, cfg.CacheSize)
		}
		logger.Info("embedder ready", zap.String("name", emb.Name()), zap.Int("dimensions", emb.Dimensions()))
		return emb, nil
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	emb, err := embedding.Shared(newEmbedder(cfg.Embedding, logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	components := &Components{Storage: store}

	collOpts := []collection.Option{
		collection.WithName(cfg.Storage.CollectionName),
		collection.WithBatchSize(cfg.Embedding.BatchSize),
		collection.WithLogger(logger),
	}
	if cfg.Storage.KeywordIndexEnabled() {
		kwIndex, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath())
		if err != nil {
			components.Close()
			return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
		}
		components.KeywordIndex = kwIndex
		collOpts = append(collOpts, collection.WithKeywordIndex(kwIndex))
	}

	coll, err := collection.Open(ctx, store, emb, collOpts...)
	if err != nil {
		components.Close()
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}
	components.Collection = coll

	extractor := extract.NewExtractor(extract.WithLogger(logger))
	components.Indexer = indexer.NewIndexer(
		coll,
		extractor,
		indexer.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap),
		indexer.WithLogger(logger),
		indexer.WithExtensions(cfg.Corpus.Extensions),
	)

	components.Service = knowledge.NewService(coll, components.Indexer, knowledge.Config{
		CorpusDir:        cfg.Corpus.Directory,
		PersistDirectory: cfg.Storage.PersistDirectory,
		DefaultTopK:      cfg.Search.DefaultTopK,
		MaxTopK:          cfg.Search.MaxTopK,
		ChunkSize:        cfg.Chunking.ChunkSize,
		ChunkOverlap:     cfg.Chunking.ChunkOverlap,
		Keyword: &keyword.SearchOptions{
			SourceBoost:  cfg.Search.KeywordSourceBoost,
			PhraseBoost:  cfg.Search.KeywordPhraseBoost,
			FuzzyEnabled: cfg.Search.KeywordFuzzy,
		},
	}, logger)
	return components, nil
}

func printUsage() {
	fmt.Println(`manabu - semantic search over teaching documents

Usage:
  manabu <command> [flags]

Commands:
  server    Build the collection if empty and serve the HTTP API
  search    Search the collection
  build     Index the corpus directory into the collection
  rebuild   Clear the collection and index the corpus again
  stats     Show collection statistics
  init      Write a config file with default settings
  version   Print the version
  help      Show this help

Run 'manabu <command> -h' for command flags.`)
}
