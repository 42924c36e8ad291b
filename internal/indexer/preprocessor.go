package indexer

import (
	"strings"
)

// Normalize prepares extracted text for chunking: line endings become "\n", NUL bytes and
// trailing whitespace on each line are removed, and the whole text is trimmed. Paragraph
// breaks survive so the chunker can split on them.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\f\v\u00a0\u3000")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
