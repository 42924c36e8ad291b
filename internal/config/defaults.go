package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5001
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 10 * time.Minute
	}
	if cfg.Corpus.Directory == "" {
		cfg.Corpus.Directory = "./corpus"
	}
	if cfg.Corpus.Extensions == nil {
		cfg.Corpus.Extensions = []string{".pdf", ".doc", ".docx"}
	}
	if cfg.Corpus.Debounce == 0 {
		cfg.Corpus.Debounce = 2 * time.Second
	}
	// An unset overlap is only defaulted along with an unset chunk size.
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 800
		if cfg.Chunking.ChunkOverlap == 0 {
			cfg.Chunking.ChunkOverlap = 150
		}
	}
	if cfg.Storage.PersistDirectory == "" {
		cfg.Storage.PersistDirectory = "./chroma_db"
	}
	if cfg.Storage.CollectionName == "" {
		cfg.Storage.CollectionName = "teaching_knowledge_base"
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 3
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 50
	}
	if cfg.Search.KeywordSourceBoost == 0 {
		cfg.Search.KeywordSourceBoost = 3.0
	}
	if cfg.Search.KeywordPhraseBoost == 0 {
		cfg.Search.KeywordPhraseBoost = 1.5
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "auto"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "./models/paraphrase-multilingual-MiniLM-L12-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
}
