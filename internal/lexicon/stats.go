// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package lexicon

import (
	"math"
	"sync"
)

// CorpusStats tracks document frequencies for one tenant's corpus.
// Each tenant engine owns its own instance; there is no process-wide corpus.
type CorpusStats struct {
	tokenizer *Tokenizer

	mu             sync.RWMutex
	totalDocuments int
	docFreq        map[string]int
}

// NewCorpusStats creates empty corpus statistics using the given tokenizer
func NewCorpusStats(tokenizer *Tokenizer) *CorpusStats {
	if tokenizer == nil {
		tokenizer = NewTokenizer(DefaultMinTokenLength)
	}
	return &CorpusStats{
		tokenizer: tokenizer,
		docFreq:   make(map[string]int),
	}
}

// Tokenizer returns the tokenizer the statistics are computed with
func (s *CorpusStats) Tokenizer() *Tokenizer {
	return s.tokenizer
}

// AddDocument counts text as one document. Every distinct token's document
// frequency is incremented once, no matter how often it occurs in text.
// Must be called exactly once per stored memory.
func (s *CorpusStats) AddDocument(text string) {
	tokens := s.tokenizer.Distinct(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalDocuments++
	for _, tok := range tokens {
		s.docFreq[tok]++
	}
}

// RemoveDocument reverts a previous AddDocument for the same text
func (s *CorpusStats) RemoveDocument(text string) {
	tokens := s.tokenizer.Distinct(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalDocuments > 0 {
		s.totalDocuments--
	}
	for _, tok := range tokens {
		switch n := s.docFreq[tok]; {
		case n > 1:
			s.docFreq[tok] = n - 1
		case n == 1:
			delete(s.docFreq, tok)
		}
	}
}

// TotalDocuments returns the number of documents added so far
func (s *CorpusStats) TotalDocuments() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalDocuments
}

// DocumentFrequency returns how many documents contained token
func (s *CorpusStats) DocumentFrequency(token string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docFreq[token]
}

// VocabularySize returns the number of distinct tokens seen
func (s *CorpusStats) VocabularySize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docFreq)
}

// IDF returns ln((N+1)/(df+1) + 1) for token
func (s *CorpusStats) IDF(token string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return math.Log(float64(s.totalDocuments+1)/float64(s.docFreq[token]+1) + 1)
}

// Reset drops all counters
func (s *CorpusStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalDocuments = 0
	s.docFreq = make(map[string]int)
}

// TermFrequencies returns each distinct token of tokens with count/len(tokens),
// ordered by first appearance.
func TermFrequencies(tokens []string) ([]string, map[string]float64) {
	counts := make(map[string]int, len(tokens))
	order := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if counts[tok] == 0 {
			order = append(order, tok)
		}
		counts[tok]++
	}

	tf := make(map[string]float64, len(counts))
	total := float64(len(tokens))
	for tok, n := range counts {
		tf[tok] = float64(n) / total
	}
	return order, tf
}
