package embedding

import (
	"regexp"
	"strings"
	"unicode"
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

const (
	clsTokenID = 101
	sepTokenID = 102
)

// SimpleTokenizer maps words to hashed token IDs within a fixed vocabulary size.
type SimpleTokenizer struct {
	VocabSize int
}

// Tokenize splits text into tokens and produces padded token IDs up to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	vocab := t.VocabSize
	if vocab <= sepTokenID {
		vocab = 30000
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsTokenID
	attentionMask[0] = 1

	pos := 1
	for _, tok := range Tokens(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(HashString(tok) % vocab)
		attentionMask[pos] = 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos] = sepTokenID
		attentionMask[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{M}]+|\p{N}+`)

// Tokens lowercases text and splits it into words. Runs of Han, Hiragana, Katakana or Hangul
// characters carry no spaces, so each character becomes its own token.
func Tokens(text string) []string {
	var tokens []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if !hasIdeographs(w) {
			tokens = append(tokens, w)
			continue
		}
		var latin []rune
		for _, r := range w {
			if isIdeograph(r) {
				if len(latin) > 0 {
					tokens = append(tokens, string(latin))
					latin = latin[:0]
				}
				tokens = append(tokens, string(r))
				continue
			}
			latin = append(latin, r)
		}
		if len(latin) > 0 {
			tokens = append(tokens, string(latin))
		}
	}
	return tokens
}

func isIdeograph(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

func hasIdeographs(s string) bool {
	for _, r := range s {
		if isIdeograph(r) {
			return true
		}
	}
	return false
}

// HashString returns a deterministic non-negative hash for use as a simple token ID.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -(h + 1)
	}
	return h
}
