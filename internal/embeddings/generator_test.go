// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/palmem/internal/lexicon"
)

func newTestGenerator(capacity int) *Generator {
	stats := lexicon.NewCorpusStats(lexicon.NewTokenizer(3))
	return NewGenerator(stats, GeneratorConfig{
		Dimensions:         256,
		VocabularyCapacity: capacity,
	})
}

func TestGenerator_UnitLength(t *testing.T) {
	gen := newTestGenerator(100)

	texts := []string{
		"Alice sagte: Hallo",
		"Bob schenkte eine Rose (5 Diamanten)",
		"wow wow wow stream",
		"Grüße aus München an alle Zuschauer",
	}

	for _, text := range texts {
		gen.Stats().AddDocument(text)
		vec := gen.Embed(text)
		require.Len(t, vec, 256)
		assert.InDelta(t, 1.0, Magnitude(vec), 1e-5, "text %q", text)
	}
}

func TestGenerator_EmptyTextYieldsZeroVector(t *testing.T) {
	gen := newTestGenerator(100)

	for _, text := range []string{"", "?!", "ja ok 42", "the and der die"} {
		vec := gen.Embed(text)
		require.Len(t, vec, 256)
		assert.True(t, IsZero(vec), "text %q", text)
	}
}

func TestGenerator_DisjointTokensAreOrthogonal(t *testing.T) {
	gen := newTestGenerator(100)

	a := "Alice liebt Katzen"
	b := "Bob spielt Gitarre"
	gen.Stats().AddDocument(a)
	gen.Stats().AddDocument(b)

	sim := CosineSimilarity(gen.Embed(a), gen.Embed(b))
	assert.Equal(t, 0.0, sim)
}

func TestGenerator_Deterministic(t *testing.T) {
	gen := newTestGenerator(100)
	gen.Stats().AddDocument("hallo welt")

	assert.Equal(t, gen.Embed("hallo welt"), gen.Embed("hallo welt"))
}

func TestGenerator_SharedTokensAreSimilar(t *testing.T) {
	gen := newTestGenerator(100)

	doc := "Alice sagte: Hallo"
	gen.Stats().AddDocument(doc)
	docVec := gen.Embed(doc)

	sim := CosineSimilarity(docVec, gen.EmbedQuery("Alice Hallo"))
	assert.Greater(t, sim, 0.5)
}

func TestGenerator_VocabularyCapacityFallback(t *testing.T) {
	gen := newTestGenerator(2)

	gen.Embed("erstes zweites drittes viertes")
	assert.Equal(t, 2, gen.Vocabulary().Len())
	assert.True(t, gen.Vocabulary().Full())

	// tokens beyond capacity still produce a normalized vector
	gen.Stats().AddDocument("fünftes")
	vec := gen.Embed("fünftes")
	assert.InDelta(t, 1.0, Magnitude(vec), 1e-5)
	assert.Equal(t, 2, gen.Vocabulary().Len())
}

func TestGenerator_EmbedQueryDoesNotGrowVocabulary(t *testing.T) {
	gen := newTestGenerator(100)

	gen.EmbedQuery("komplett neue begriffe")
	assert.Equal(t, 0, gen.Vocabulary().Len())

	gen.Embed("komplett neue begriffe")
	assert.Equal(t, 3, gen.Vocabulary().Len())
}

func TestGenerator_ObserveMatchesEmbedOrder(t *testing.T) {
	a := newTestGenerator(100)
	b := newTestGenerator(100)

	a.Embed("hallo welt stream")
	b.Observe("hallo welt stream")

	for _, tok := range []string{"hallo", "welt", "stream"} {
		assert.Equal(t, a.Vocabulary().Lookup(tok), b.Vocabulary().Lookup(tok))
	}
}

func TestVocabulary_AssignsSequentialIndices(t *testing.T) {
	v := NewVocabulary(10, 256)

	assert.Equal(t, 0, v.Index("alpha"))
	assert.Equal(t, 1, v.Index("beta"))
	assert.Equal(t, 0, v.Index("alpha"))
	assert.Equal(t, 2, v.Len())

	v.Reset()
	assert.Equal(t, 0, v.Len())
}

func TestVocabulary_HashFallbackIsStable(t *testing.T) {
	v := NewVocabulary(0, 256)

	first := v.Index("gamma")
	assert.Equal(t, first, v.Index("gamma"))
	assert.Equal(t, first, v.Lookup("gamma"))
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 256)
	assert.Equal(t, 0, v.Len())
}

func TestVocabulary_PlanDoesNotAssign(t *testing.T) {
	v := NewVocabulary(3, 256)
	v.Index("alpha")

	planned := v.Plan([]string{"alpha", "beta", "gamma", "beta", "delta"})
	assert.Equal(t, []Entry{{Token: "beta", Ordinal: 1}, {Token: "gamma", Ordinal: 2}}, planned)
	assert.Equal(t, 1, v.Len())

	v.Commit(planned)
	assert.Equal(t, 3, v.Len())
	assert.Equal(t, 2, v.Lookup("gamma"))
	assert.Empty(t, v.Plan([]string{"delta"}))
}

func TestVocabulary_CommitRestoresOrdinals(t *testing.T) {
	v := NewVocabulary(10, 4)
	v.Commit([]Entry{{Token: "alpha", Ordinal: 0}, {Token: "gamma", Ordinal: 5}})

	assert.Equal(t, 1, v.Lookup("gamma"))
	assert.Equal(t, 6%4, v.Index("delta"))
	assert.Equal(t, []Entry{{Token: "alpha", Ordinal: 0}, {Token: "gamma", Ordinal: 5}, {Token: "delta", Ordinal: 6}}, v.Entries())
}

func TestGenerator_EmbedDocumentMatchesEmbed(t *testing.T) {
	a := newTestGenerator(100)
	b := newTestGenerator(100)
	a.Stats().AddDocument("hallo welt stream")
	b.Stats().AddDocument("hallo welt stream")

	vec, entries := a.EmbedDocument("hallo welt stream")
	assert.Len(t, entries, 3)
	assert.Zero(t, a.Vocabulary().Len())
	assert.Equal(t, b.Embed("hallo welt stream"), vec)

	a.Vocabulary().Commit(entries)
	assert.Equal(t, b.Vocabulary().Entries(), a.Vocabulary().Entries())
}
