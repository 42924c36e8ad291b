package models

import (
	"math"
	"time"
)

// QueryResult is a single nearest-neighbour hit.
type QueryResult struct {
	ID         string   `json:"-"`
	Content    string   `json:"content"`
	SourceName string   `json:"source"`
	SourcePath string   `json:"file_path"`
	ChunkIndex int      `json:"chunk_id"`
	Distance   *float64 `json:"distance"` // nil when the backend reports no distance
	Similarity float64  `json:"similarity"`
}

// Similarity maps a raw distance to [0,1]: max(0, 1/(1+|d|)), or 1.0 when the distance is unknown.
// It is a monotonic bounded transform, not a calibrated probability: distance 0 gives 1.0 and
// larger |distance| gives strictly smaller values approaching 0.
func Similarity(distance *float64) float64 {
	if distance == nil {
		return 1.0
	}
	return math.Max(0, 1/(1+math.Abs(*distance)))
}

// NewQueryResult builds a result for a passage and fills Similarity from distance.
func NewQueryResult(p *Passage, distance *float64) *QueryResult {
	return &QueryResult{
		ID:         p.ID(),
		Content:    p.Content,
		SourceName: p.SourceName,
		SourcePath: p.SourcePath,
		ChunkIndex: p.ChunkIndex,
		Distance:   distance,
		Similarity: Similarity(distance),
	}
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Query     string         `json:"query"`
	Results   []*QueryResult `json:"results"`
	Count     int            `json:"count"`
	QueryTime int64          `json:"query_time_ms"`
}

// Stats describes the state of a collection.
type Stats struct {
	CollectionName      string     `json:"collection_name"`
	DocumentCount       int64      `json:"document_count"`
	PersistDirectory    string     `json:"persist_directory"`
	EmbeddingDimensions int        `json:"embedding_dimensions,omitempty"`
	ChunkSize           int        `json:"chunk_size,omitempty"`
	ChunkOverlap        int        `json:"chunk_overlap,omitempty"`
	LastBuildID         string     `json:"last_build_id,omitempty"`
	LastBuildAt         *time.Time `json:"last_build_at,omitempty"`
	DiskUsageBytes      *int64     `json:"disk_usage_bytes,omitempty"`
}

// BuildReport summarises one corpus build.
type BuildReport struct {
	BuildID  string        `json:"build_id"`
	Files    int           `json:"files"`
	Skipped  int           `json:"skipped"`
	Passages int           `json:"passages"`
	Duration time.Duration `json:"duration"`
}
