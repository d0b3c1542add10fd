// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"errors"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// ErrDimensionMismatch is returned when a vector of the wrong length is inserted
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Match is one ranked similarity search result
type Match struct {
	ID         uint    `json:"id"`
	Similarity float64 `json:"similarity"`
}

// Keyword is a token scored by tf*idf
type Keyword struct {
	Token string  `json:"token"`
	Score float64 `json:"score"`
}

// Index is an in-process map from memory ID to embedding. It is a disposable
// cache over the durable store and can always be rebuilt from it.
type Index struct {
	gen *Generator

	mu      sync.RWMutex
	vectors map[uint][]float32
}

// NewIndex creates an empty index whose queries are embedded by gen
func NewIndex(gen *Generator) *Index {
	return &Index{
		gen:     gen,
		vectors: make(map[uint][]float32),
	}
}

// Generator returns the generator used to embed queries
func (x *Index) Generator() *Generator {
	return x.gen
}

// Insert adds or replaces the vector for id
func (x *Index) Insert(id uint, vector []float32) error {
	if len(vector) != x.gen.Dimensions() {
		return goerr.Wrap(ErrDimensionMismatch, "cannot index vector",
			goerr.V("id", id), goerr.V("expected", x.gen.Dimensions()), goerr.V("actual", len(vector)))
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors[id] = slices.Clone(vector)
	return nil
}

// Remove drops id from the index
func (x *Index) Remove(ids ...uint) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range ids {
		delete(x.vectors, id)
	}
}

// Clear drops every entry
func (x *Index) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors = make(map[uint][]float32)
}

// Len returns the number of indexed vectors
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Has reports whether id is indexed
func (x *Index) Has(id uint) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.vectors[id]
	return ok
}

// FindSimilar embeds query and returns at most topK entries with
// similarity >= threshold, highest similarity first
func (x *Index) FindSimilar(query string, topK int, threshold float64) []Match {
	if topK <= 0 {
		return []Match{}
	}
	return x.FindSimilarVector(x.gen.EmbedQuery(query), topK, threshold)
}

// FindSimilarVector ranks indexed vectors against an already embedded query
func (x *Index) FindSimilarVector(query []float32, topK int, threshold float64) []Match {
	if topK <= 0 {
		return []Match{}
	}

	x.mu.RLock()
	results := make([]Match, 0, len(x.vectors))
	for id, vec := range x.vectors {
		sim := CosineSimilarity(query, vec)
		if sim >= threshold {
			results = append(results, Match{ID: id, Similarity: sim})
		}
	}
	x.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Cluster partitions every indexed ID with single-link greedy clustering.
// Cost is O(n²), which is only acceptable for a few hundred entries per tenant.
func (x *Index) Cluster(minSimilarity float64) [][]uint {
	x.mu.RLock()
	ids := make([]uint, 0, len(x.vectors))
	for id := range x.vectors {
		ids = append(ids, id)
	}
	x.mu.RUnlock()

	return x.ClusterIDs(ids, minSimilarity)
}

// ClusterIDs clusters a subset of indexed IDs. IDs that are not indexed are
// skipped. Seeds are visited in ascending ID order; each seed absorbs every
// unassigned item whose similarity to the seed is at least minSimilarity.
func (x *Index) ClusterIDs(ids []uint, minSimilarity float64) [][]uint {
	x.mu.RLock()
	defer x.mu.RUnlock()

	items := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := x.vectors[id]; ok {
			items = append(items, id)
		}
	}
	slices.Sort(items)
	items = slices.Compact(items)

	assigned := make(map[uint]bool, len(items))
	clusters := make([][]uint, 0)
	for i, seed := range items {
		if assigned[seed] {
			continue
		}
		assigned[seed] = true
		cluster := []uint{seed}

		for _, other := range items[i+1:] {
			if assigned[other] {
				continue
			}
			if CosineSimilarity(x.vectors[seed], x.vectors[other]) >= minSimilarity {
				assigned[other] = true
				cluster = append(cluster, other)
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

// ExtractKeywords returns the topK tokens of text ranked by tf*idf against
// the shared corpus statistics
func (x *Index) ExtractKeywords(text string, topK int) []Keyword {
	if topK <= 0 {
		return []Keyword{}
	}

	order, weights := x.gen.Weights(text)
	keywords := make([]Keyword, 0, len(order))
	for _, tok := range order {
		keywords = append(keywords, Keyword{Token: tok, Score: weights[tok]})
	}

	sort.SliceStable(keywords, func(i, j int) bool {
		return keywords[i].Score > keywords[j].Score
	})

	if len(keywords) > topK {
		keywords = keywords[:topK]
	}
	return keywords
}

// CosineSimilarity calculates cosine similarity between two vectors.
// Mismatched lengths and zero vectors yield 0; identical non-zero vectors yield exactly 1.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	if slices.Equal(a, b) {
		return 1
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(-1, math.Min(1, sim))
}
