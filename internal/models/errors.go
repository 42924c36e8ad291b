package models

import "errors"

// Error kinds surfaced by the retrieval pipeline. Callers wrap them with %w and
// classify with errors.Is or ErrorKind.
var (
	// ErrExtraction indicates a single document could not be parsed. Recoverable: the build skips it.
	ErrExtraction = errors.New("extraction failure")

	// ErrInvalidInput indicates a caller error such as an empty query.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorageUnavailable indicates the embedding store cannot be opened or written.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrPrecondition indicates a build precondition failed, e.g. the corpus root is missing.
	ErrPrecondition = errors.New("precondition failure")

	// ErrEmbeddingMismatch indicates a collection was created with a different embedding function.
	ErrEmbeddingMismatch = errors.New("embedding function mismatch")
)

// Kind names an error class for transport layers.
type Kind string

const (
	KindNone               Kind = ""
	KindInvalidInput       Kind = "invalid_input"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindPrecondition       Kind = "precondition_failure"
	KindExtraction         Kind = "extraction_failure"
	KindInternal           Kind = "internal"
)

// ErrorKind classifies err. An embedding mismatch is reported as storage unavailable
// since the collection cannot be used until an operator intervenes.
func ErrorKind(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrStorageUnavailable), errors.Is(err, ErrEmbeddingMismatch):
		return KindStorageUnavailable
	case errors.Is(err, ErrPrecondition):
		return KindPrecondition
	case errors.Is(err, ErrExtraction):
		return KindExtraction
	default:
		return KindInternal
	}
}
