// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package lexicon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tok := NewTokenizer(3)

	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "lowercases and strips punctuation",
			input:    "Alice sagte: Hallo!",
			expected: []string{"alice", "sagte", "hallo"},
		},
		{
			name:     "drops stop words in both languages",
			input:    "the stream und der Chat",
			expected: []string{"stream", "chat"},
		},
		{
			name:     "drops short tokens",
			input:    "ok go yes wow",
			expected: []string{"wow"},
		},
		{
			name:     "drops purely numeric tokens",
			input:    "level 1234 abc123",
			expected: []string{"level", "abc123"},
		},
		{
			name:     "keeps umlauts",
			input:    "Grüße aus München",
			expected: []string{"grüße", "münchen"},
		},
		{
			name:     "empty input",
			input:    "",
			expected: nil,
		},
		{
			name:     "only punctuation",
			input:    "?!?...",
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tok.Tokenize(tt.input)
			if tt.expected == nil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestTokenize_Deterministic(t *testing.T) {
	tok := NewTokenizer(3)
	text := "Danke für das Geschenk, Bob! Danke!"

	assert.Equal(t, tok.Tokenize(text), tok.Tokenize(text))
	assert.Equal(t, []string{"danke", "geschenk", "bob", "danke"}, tok.Tokenize(text))
}

func TestDistinct(t *testing.T) {
	tok := NewTokenizer(3)
	assert.Equal(t, []string{"danke", "geschenk"}, tok.Distinct("danke geschenk danke"))
}

func TestNewTokenizer_InvalidMinLength(t *testing.T) {
	tok := NewTokenizer(0)
	assert.Equal(t, DefaultMinTokenLength, tok.MinLength())
}
