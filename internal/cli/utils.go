// Package cli provides CLI output helpers.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a -output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("invalid output format %q (use text or json)", s)
	}
}

// SnippetLength is the number of characters of passage content shown in text output.
const SnippetLength = 200

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results for %q in %dms\n\n", response.Count, response.Query, response.QueryTime)
	for i, result := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "#%d  %s (chunk %d)", i+1, result.SourceName, result.ChunkIndex)
		if result.Distance != nil {
			fmt.Fprintf(w, "  similarity %.4f  distance %.4f\n", result.Similarity, *result.Distance)
		} else {
			fmt.Fprintf(w, "  keyword match\n")
		}
		fmt.Fprintf(w, "%s\n\n%s\n\n", result.SourcePath, utils.Snippet(result.Content, SnippetLength))
	}
	return nil
}

// WriteStats writes collection statistics to w in the given format.
func WriteStats(w io.Writer, stats *models.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "Collection:        %s\n", stats.CollectionName)
	fmt.Fprintf(w, "Passages:          %d\n", stats.DocumentCount)
	fmt.Fprintf(w, "Persist directory: %s\n", stats.PersistDirectory)
	if stats.EmbeddingDimensions > 0 {
		fmt.Fprintf(w, "Dimensions:        %d\n", stats.EmbeddingDimensions)
	}
	if stats.ChunkSize > 0 {
		fmt.Fprintf(w, "Chunking:          %d / %d overlap\n", stats.ChunkSize, stats.ChunkOverlap)
	}
	if stats.LastBuildID != "" {
		fmt.Fprintf(w, "Last build:        %s", stats.LastBuildID)
		if stats.LastBuildAt != nil {
			fmt.Fprintf(w, " at %s", stats.LastBuildAt.Format("2006-01-02 15:04:05 MST"))
		}
		fmt.Fprintln(w)
	}
	if stats.DiskUsageBytes != nil {
		fmt.Fprintf(w, "Disk usage:        %s\n", FormatBytes(*stats.DiskUsageBytes))
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
