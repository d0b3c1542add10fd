// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// indexDocs stores docs under IDs 1..n the way the engine does
func indexDocs(t *testing.T, idx *Index, docs ...string) {
	t.Helper()
	for i, doc := range docs {
		idx.Generator().Stats().AddDocument(doc)
		require.NoError(t, idx.Insert(uint(i+1), idx.Generator().Embed(doc)))
	}
}

func TestIndex_FindSimilar(t *testing.T) {
	idx := NewIndex(newTestGenerator(1000))
	indexDocs(t, idx,
		"Alice sagte: Hallo",
		"Bob schenkte eine Rose",
		"Alice schenkte eine Rose",
	)

	results := idx.FindSimilar("Alice Hallo", 5, 0.1)
	require.NotEmpty(t, results)
	assert.Equal(t, uint(1), results[0].ID)
	assert.Greater(t, results[0].Similarity, 0.1)
}

func TestIndex_FindSimilarOrderingAndBounds(t *testing.T) {
	idx := NewIndex(newTestGenerator(1000))
	var docs []string
	for i := 0; i < 20; i++ {
		docs = append(docs, fmt.Sprintf("stream nachricht%c thema%c", 'a'+rune(i%5), 'a'+rune(i%3)))
	}
	indexDocs(t, idx, docs...)

	for _, tc := range []struct {
		topK      int
		threshold float64
	}{{3, 0}, {5, 0.2}, {50, 0.5}, {1, 0.9}} {
		results := idx.FindSimilar("stream nachrichta themab", tc.topK, tc.threshold)
		assert.LessOrEqual(t, len(results), tc.topK)
		for i, r := range results {
			assert.GreaterOrEqual(t, r.Similarity, tc.threshold)
			if i > 0 {
				assert.GreaterOrEqual(t, results[i-1].Similarity, r.Similarity)
			}
		}
	}
}

func TestIndex_FindSimilarEmpty(t *testing.T) {
	idx := NewIndex(newTestGenerator(1000))

	assert.Empty(t, idx.FindSimilar("hallo", 5, 0.1))
	assert.Empty(t, idx.FindSimilar("hallo", 0, 0))
	assert.Empty(t, idx.FindSimilar("", 5, 0.1))
}

func TestIndex_InsertRejectsWrongDimension(t *testing.T) {
	idx := NewIndex(newTestGenerator(1000))

	err := idx.Insert(1, []float32{1, 0, 0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.Equal(t, 0, idx.Len())
}

func TestIndex_RemoveAndClear(t *testing.T) {
	idx := NewIndex(newTestGenerator(1000))
	indexDocs(t, idx, "hallo welt", "guten morgen", "schönen abend")

	idx.Remove(2)
	assert.False(t, idx.Has(2))
	assert.Equal(t, 2, idx.Len())

	idx.Clear()
	assert.Equal(t, 0, idx.Len())
	assert.Empty(t, idx.FindSimilar("hallo welt", 5, 0))
}

func TestIndex_Cluster(t *testing.T) {
	idx := NewIndex(newTestGenerator(1000))
	indexDocs(t, idx,
		"katzen spielen gerne",    // 1
		"hunde bellen laut",       // 2
		"katzen spielen draussen", // 3
		"hunde bellen nachts",     // 4
		"gitarre musik abend",     // 5
	)

	clusters := idx.Cluster(0.3)

	assert.Equal(t, [][]uint{{1, 3}, {2, 4}, {5}}, clusters)

	var total int
	for _, c := range clusters {
		total += len(c)
	}
	assert.Equal(t, idx.Len(), total)
}

func TestIndex_ClusterIDsSkipsUnknown(t *testing.T) {
	idx := NewIndex(newTestGenerator(1000))
	indexDocs(t, idx, "katzen spielen", "katzen spielen gerne")

	clusters := idx.ClusterIDs([]uint{2, 1, 99, 1}, 0.3)
	assert.Equal(t, [][]uint{{1, 2}}, clusters)
}

func TestIndex_ExtractKeywords(t *testing.T) {
	idx := NewIndex(newTestGenerator(1000))
	indexDocs(t, idx,
		"stream heute stream",
		"stream morgen",
		"stream gestern",
	)

	keywords := idx.ExtractKeywords("stream stream gitarre", 2)
	require.Len(t, keywords, 2)
	// gitarre is rare in the corpus, stream appears everywhere
	assert.Equal(t, "gitarre", keywords[0].Token)
	assert.Equal(t, "stream", keywords[1].Token)
	assert.Greater(t, keywords[0].Score, keywords[1].Score)

	assert.Empty(t, idx.ExtractKeywords("", 3))
	assert.Empty(t, idx.ExtractKeywords("stream", 0))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{0.3, 0.4, 0.5}, []float32{0.3, 0.4, 0.5}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}
