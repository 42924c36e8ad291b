package models

import (
	"fmt"
	"strings"
)

// SearchMode selects which index answers a search.
type SearchMode string

const (
	// ModeSemantic queries the embedding index (default).
	ModeSemantic SearchMode = "semantic"
	// ModeKeyword queries the full-text passage index.
	ModeKeyword SearchMode = "keyword"
)

// SearchQuery represents a search request.
type SearchQuery struct {
	Query string     `json:"query"`
	TopK  int        `json:"top_k,omitempty"`
	Mode  SearchMode `json:"mode,omitempty"`
}

// Validate checks the query and fills defaults. An empty or blank query is ErrInvalidInput;
// TopK <= 0 becomes defaultTopK and TopK above maxTopK is capped.
func (q *SearchQuery) Validate(defaultTopK, maxTopK int) error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidInput)
	}
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}
	if maxTopK > 0 && q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	switch q.Mode {
	case "":
		q.Mode = ModeSemantic
	case ModeSemantic, ModeKeyword:
	default:
		return fmt.Errorf("%w: unknown search mode %q", ErrInvalidInput, q.Mode)
	}
	return nil
}
