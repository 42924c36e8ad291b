// Package keyword provides full-text (BM25) search over passages.
package keyword

import (
	"context"

	"github.com/hyperjump/manabu/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// SourceBoost multiplies the score contribution from matches in the source file name.
	// Use 1.0 for no boost.
	SourceBoost float64
	// PhraseBoost multiplies the score when query terms appear as a phrase. Use 1.0 for no boost.
	PhraseBoost float64
	// FuzzyEnabled enables typo-tolerant matching.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2). Default 2.
	Fuzziness int
}

// KeywordIndex defines keyword search operations over passages keyed by passage identity.
type KeywordIndex interface {
	// IndexPassages adds or replaces passages in one batch.
	IndexPassages(ctx context.Context, passages []models.Passage) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, id string) error
	// Reset removes every passage.
	Reset(ctx context.Context) error
	// DocCount returns the total number of passages in the index.
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID    string
	Score float64
}
