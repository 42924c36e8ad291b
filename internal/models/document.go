// Package models defines core data structures for documents, passages, and query results.
package models

import (
	"path/filepath"
	"strconv"
	"strings"
)

// FileKind is the format family of a source document.
type FileKind string

const (
	// KindPDF is a PDF document.
	KindPDF FileKind = "pdf"
	// KindWord is a word-processor document (.doc, .docx).
	KindWord FileKind = "word"
	// KindUnsupported marks any extension outside the supported set.
	KindUnsupported FileKind = ""
)

// SupportedExtensions lists the file extensions the corpus builder picks up.
var SupportedExtensions = []string{".pdf", ".doc", ".docx"}

// KindForExtension maps a file extension (with or without the leading dot, any case) to its kind.
func KindForExtension(ext string) FileKind {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "pdf":
		return KindPDF
	case "doc", "docx":
		return KindWord
	default:
		return KindUnsupported
	}
}

// Document is a source file found while walking the corpus. It is never persisted.
type Document struct {
	Path string   `json:"path"`
	Kind FileKind `json:"kind"`
	Name string   `json:"name"`
}

// NewDocument builds a Document for an absolute path, deriving kind and display name.
func NewDocument(absPath string) Document {
	return Document{
		Path: absPath,
		Kind: KindForExtension(filepath.Ext(absPath)),
		Name: filepath.Base(absPath),
	}
}

// Passage is one chunk of a document's extracted text, the unit of retrieval.
type Passage struct {
	Content     string `json:"content" db:"content"`
	SourceName  string `json:"source" db:"source_name"`
	SourcePath  string `json:"file_path" db:"source_path"`
	ChunkIndex  int    `json:"chunk_id" db:"chunk_index"`
	TotalChunks int    `json:"total_chunks" db:"total_chunks"`
}

// ID returns the passage identity: display name and chunk index joined by an underscore.
// Two documents sharing a display name collide on identity.
func (p *Passage) ID() string {
	return PassageID(p.SourceName, p.ChunkIndex)
}

// PassageID builds a passage identity from its parts.
func PassageID(sourceName string, chunkIndex int) string {
	return sourceName + "_" + strconv.Itoa(chunkIndex)
}

// Record is a passage together with its embedding vector.
type Record struct {
	Passage
	Embedding []float32 `json:"-" db:"-"`
}
