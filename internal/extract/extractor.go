// Package extract provides text extraction from PDF and Word documents.
package extract

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/models"
)

// Strategy is one named way of turning file bytes into text.
type Strategy struct {
	Name string
	Func func(content []byte) (string, error)
}

// StrategyError records why a single strategy failed.
type StrategyError struct {
	Strategy string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Strategy, e.Err)
}

// Unwrap lets errors.Is match both the cause and ErrExtraction.
func (e *StrategyError) Unwrap() []error {
	return []error{models.ErrExtraction, e.Err}
}

var errEmptyText = errors.New("empty text")

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithLogger sets the logger used for extraction warnings.
func WithLogger(logger *zap.Logger) ExtractorOption {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// WithStrategies replaces the strategy chain for a file kind.
func WithStrategies(kind models.FileKind, strategies ...Strategy) ExtractorOption {
	return func(e *Extractor) {
		e.chains[kind] = strategies
	}
}

// Extractor extracts plain text from document files.
type Extractor struct {
	chains map[models.FileKind][]Strategy
	logger *zap.Logger
}

// NewExtractor returns an Extractor with the default PDF and Word chains.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		chains: map[models.FileKind][]Strategy{
			models.KindPDF:  PDFStrategies(),
			models.KindWord: WordStrategies(),
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the text of doc. It never fails: when the file cannot be read or every
// strategy fails, it logs a warning and returns "".
func (e *Extractor) Extract(doc models.Document) string {
	content, err := os.ReadFile(doc.Path)
	if err != nil {
		e.logger.Warn("read document failed", zap.String("path", doc.Path), zap.Error(err))
		return ""
	}
	text, err := e.ExtractBytes(content, doc.Kind)
	if err != nil {
		e.logger.Warn("extraction failed", zap.String("path", doc.Path), zap.Error(err))
		return ""
	}
	return text
}

// ExtractBytes runs the strategy chain for kind over content. The first strategy to
// produce non-blank text wins. The returned error joins every strategy failure and
// matches models.ErrExtraction.
func (e *Extractor) ExtractBytes(content []byte, kind models.FileKind) (string, error) {
	chain, ok := e.chains[kind]
	if !ok || len(chain) == 0 {
		return "", fmt.Errorf("%w: unsupported kind %q", models.ErrExtraction, kind)
	}
	var failures []error
	for _, s := range chain {
		text, err := runStrategy(s, content)
		if err != nil {
			e.logger.Debug("strategy failed", zap.String("strategy", s.Name), zap.Error(err))
			failures = append(failures, &StrategyError{Strategy: s.Name, Err: err})
			continue
		}
		return text, nil
	}
	return "", errors.Join(failures...)
}

// runStrategy calls s and converts panics from malformed input into errors.
func runStrategy(s Strategy, content []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("panic: %v", r)
		}
	}()
	text, err = s.Func(content)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errEmptyText
	}
	return text, nil
}
