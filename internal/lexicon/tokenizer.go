// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package lexicon

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// DefaultMinTokenLength is the shortest token (in runes) that survives filtering
const DefaultMinTokenLength = 3

// Tokenizer splits free text into filtered, lowercased tokens.
// It holds no mutable state and is safe for concurrent use.
type Tokenizer struct {
	minLength int
}

// NewTokenizer creates a tokenizer dropping tokens shorter than minLength runes
func NewTokenizer(minLength int) *Tokenizer {
	if minLength < 1 {
		minLength = DefaultMinTokenLength
	}
	return &Tokenizer{minLength: minLength}
}

// MinLength returns the configured minimum token length
func (t *Tokenizer) MinLength() int {
	return t.minLength
}

// Tokenize lowercases text, strips everything that is not a letter, digit or
// whitespace, and returns the remaining tokens in order of appearance.
// Stop-words, short tokens and purely numeric tokens are dropped.
func (t *Tokenizer) Tokenize(text string) []string {
	if text == "" {
		return nil
	}

	// cases.Caser is stateful and must not be shared between goroutines
	lower := cases.Lower(language.Und)
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) {
			return r
		}
		if r == '_' {
			return r
		}
		return ' '
	}, lower.String(norm.NFKC.String(text)))

	fields := strings.Fields(cleaned)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) < t.minLength {
			continue
		}
		if IsStopWord(f) || isNumeric(f) {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// Distinct returns the unique tokens of text, keeping first-appearance order
func (t *Tokenizer) Distinct(text string) []string {
	tokens := t.Tokenize(text)
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0:0]
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
