// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"math"

	"github.com/tejzpr/palmem/internal/lexicon"
)

// Defaults for the hashed TF-IDF projection
const (
	DefaultDimensions   = 256
	DefaultSpread       = 4
	DefaultSpreadStride = 64
)

// GeneratorConfig configures the embedding generator
type GeneratorConfig struct {
	Dimensions         int
	VocabularyCapacity int
	Spread             int // number of dimensions each token is spread across
	SpreadStride       int // distance between two spread dimensions
}

// Generator turns text into L2-normalized TF-IDF vectors of fixed dimension
// by feature hashing. No external model is involved.
type Generator struct {
	dims   int
	spread int
	stride int
	stats  *lexicon.CorpusStats
	vocab  *Vocabulary
}

// NewGenerator creates a generator reading document frequencies from stats
func NewGenerator(stats *lexicon.CorpusStats, cfg GeneratorConfig) *Generator {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.VocabularyCapacity <= 0 {
		cfg.VocabularyCapacity = DefaultVocabularyCapacity
	}
	if cfg.Spread <= 0 {
		cfg.Spread = DefaultSpread
	}
	if cfg.SpreadStride <= 0 {
		cfg.SpreadStride = DefaultSpreadStride
	}
	if stats == nil {
		stats = lexicon.NewCorpusStats(nil)
	}

	return &Generator{
		dims:   cfg.Dimensions,
		spread: cfg.Spread,
		stride: cfg.SpreadStride,
		stats:  stats,
		vocab:  NewVocabulary(cfg.VocabularyCapacity, cfg.Dimensions),
	}
}

// Dimensions returns the fixed vector length
func (g *Generator) Dimensions() int {
	return g.dims
}

// Stats returns the corpus statistics backing the IDF weights
func (g *Generator) Stats() *lexicon.CorpusStats {
	return g.stats
}

// Vocabulary returns the token table
func (g *Generator) Vocabulary() *Vocabulary {
	return g.vocab
}

// Embed generates the vector for a stored document. Unseen tokens are added
// to the vocabulary while it has room.
func (g *Generator) Embed(text string) []float32 {
	vec, entries := g.EmbedDocument(text)
	g.vocab.Commit(entries)
	return vec
}

// EmbedDocument generates the vector for a document that is about to be
// stored and returns the vocabulary entries it relies on. The entries take
// effect only once passed to Vocabulary.Commit, so a failed write does not
// consume vocabulary slots.
func (g *Generator) EmbedDocument(text string) ([]float32, []Entry) {
	planned := g.vocab.Plan(g.stats.Tokenizer().Distinct(text))
	if len(planned) == 0 {
		return g.project(text, g.vocab.Lookup), nil
	}

	byToken := make(map[string]int, len(planned))
	for _, e := range planned {
		byToken[e.Token] = e.Ordinal
	}
	vec := g.project(text, func(tok string) int {
		if ord, ok := byToken[tok]; ok {
			return ord % g.dims
		}
		return g.vocab.Lookup(tok)
	})
	return vec, planned
}

// EmbedQuery generates the vector for a search query. The vocabulary is only
// read, so queries do not shift the indices of later documents.
func (g *Generator) EmbedQuery(text string) []float32 {
	return g.project(text, g.vocab.Lookup)
}

// Observe assigns vocabulary slots for text's tokens in first-appearance
// order, exactly as Embed would, without computing a vector
func (g *Generator) Observe(text string) {
	for _, tok := range g.stats.Tokenizer().Distinct(text) {
		g.vocab.Index(tok)
	}
}

// Weights returns tf*idf for every distinct token of text, in order of first appearance
func (g *Generator) Weights(text string) ([]string, map[string]float64) {
	tokens := g.stats.Tokenizer().Tokenize(text)
	if len(tokens) == 0 {
		return nil, nil
	}

	order, tf := lexicon.TermFrequencies(tokens)
	weights := make(map[string]float64, len(order))
	for _, tok := range order {
		weights[tok] = tf[tok] * g.stats.IDF(tok)
	}
	return order, weights
}

func (g *Generator) project(text string, resolve func(string) int) []float32 {
	acc := make([]float64, g.dims)

	order, weights := g.Weights(text)
	for _, tok := range order {
		base := resolve(tok)
		w := weights[tok]
		for i := 0; i < g.spread; i++ {
			dim := (base + i*g.stride) % g.dims
			acc[dim] += w * signFor(tok, i)
		}
	}

	return normalize(acc)
}

func normalize(acc []float64) []float32 {
	var sum float64
	for _, x := range acc {
		sum += x * x
	}

	out := make([]float32, len(acc))
	if sum == 0 {
		return out
	}

	mag := math.Sqrt(sum)
	for i, x := range acc {
		out[i] = float32(x / mag)
	}
	return out
}

// Magnitude returns the L2 norm of v
func Magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// IsZero reports whether every component of v is zero
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
