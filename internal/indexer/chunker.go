package indexer

import (
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/manabu/internal/models"
)

// DefaultSeparators are tried in order; the empty separator splits into single characters.
var DefaultSeparators = []string{"\n\n", "\n", "。", "！", "？", ".", "!", "?", " ", ""}

// Chunker splits text into passages of at most ChunkSize characters, carrying up to
// ChunkOverlap characters of context between neighbours. Lengths are counted in runes.
type Chunker struct {
	ChunkSize    int
	ChunkOverlap int
	separators   []string
}

// NewChunker creates a chunker. chunkSize is clamped to at least 1 and overlap to [0, chunkSize).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize < 1 {
		chunkSize = 1
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize - 1
	}
	return &Chunker{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		separators:   DefaultSeparators,
	}
}

// Split returns the chunks of text. It is deterministic; empty input yields no chunks.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.split(text, c.separators)
}

// Passages splits text and tags each chunk with its source document and position.
func (c *Chunker) Passages(doc models.Document, text string) []models.Passage {
	chunks := c.Split(text)
	if len(chunks) == 0 {
		return nil
	}
	passages := make([]models.Passage, len(chunks))
	for i, content := range chunks {
		passages[i] = models.Passage{
			Content:     content,
			SourceName:  doc.Name,
			SourcePath:  doc.Path,
			ChunkIndex:  i,
			TotalChunks: len(chunks),
		}
	}
	return passages
}

func (c *Chunker) split(text string, separators []string) []string {
	var final []string

	separator := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" {
			separator = s
			break
		}
		if strings.Contains(text, s) {
			separator = s
			rest = separators[i+1:]
			break
		}
	}

	var good []string
	for _, piece := range splitKeepSeparator(text, separator) {
		if utf8.RuneCountInString(piece) < c.ChunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, c.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, c.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, c.merge(good)...)
	}
	return final
}

// splitKeepSeparator splits text on sep, attaching each separator to the start of the
// piece that follows it. Empty pieces are dropped. An empty sep splits into runes.
func splitKeepSeparator(text, sep string) []string {
	var pieces []string
	if sep == "" {
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}
	parts := strings.Split(text, sep)
	if parts[0] != "" {
		pieces = append(pieces, parts[0])
	}
	for _, p := range parts[1:] {
		pieces = append(pieces, sep+p)
	}
	return pieces
}

// merge packs pieces into chunks. Separators already travel with the pieces, so pieces
// are concatenated directly. After each emitted chunk, leading pieces are dropped until
// the carried tail fits the overlap and leaves room for the next piece.
func (c *Chunker) merge(pieces []string) []string {
	var chunks []string
	var current []string
	total := 0
	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if total+n > c.ChunkSize && len(current) > 0 {
			if chunk := joinChunk(current); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for len(current) > 0 && (total > c.ChunkOverlap || total+n > c.ChunkSize) {
				total -= utf8.RuneCountInString(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if chunk := joinChunk(current); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func joinChunk(pieces []string) string {
	return strings.TrimSpace(strings.Join(pieces, ""))
}
