// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package rebuild

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/palmem/internal/database"
	"github.com/tejzpr/palmem/internal/embeddings"
	"github.com/tejzpr/palmem/internal/lexicon"
	"github.com/tejzpr/palmem/internal/logging"
	"github.com/tejzpr/palmem/internal/store"
	"gorm.io/gorm/logger"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := database.Connect(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "rebuild.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, database.Setup(db))
	t.Cleanup(func() { _ = database.Close(db) })

	st, err := store.New(db, "anna", store.WithLogger(logging.Discard()))
	require.NoError(t, err)
	return st
}

func newIndex() *embeddings.Index {
	stats := lexicon.NewCorpusStats(nil)
	return embeddings.NewIndex(embeddings.NewGenerator(stats, embeddings.GeneratorConfig{}))
}

// storeEmbedded stores content the way the engine does
func storeEmbedded(t *testing.T, st *store.Store, idx *embeddings.Index, content string) uint {
	t.Helper()
	gen := idx.Generator()
	gen.Stats().AddDocument(content)
	vec, entries := gen.EmbedDocument(content)
	id, err := st.StoreMemoryWithVocabulary(context.Background(), &database.Memory{
		Kind:      database.KindChat,
		Content:   content,
		Embedding: embeddings.Float32SliceToBlob(vec),
	}, VocabularyTokens(entries))
	require.NoError(t, err)
	gen.Vocabulary().Commit(entries)
	require.NoError(t, idx.Insert(id, vec))
	return id
}

func TestRebuildIndex_RestoresIndexAndStats(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	live := newIndex()

	ids := []uint{
		storeEmbedded(t, st, live, "lena sagte: gitarre spielen heute"),
		storeEmbedded(t, st, live, "max sagte: kochen pasta abends"),
	}

	restored := newIndex()
	res, err := RebuildIndex(ctx, st, restored, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, 2, res.MemoriesProcessed)
	assert.Equal(t, 2, res.MemoriesIndexed)
	assert.Zero(t, res.Regenerated)
	assert.Empty(t, res.Errors)

	assert.Equal(t, 2, restored.Generator().Stats().TotalDocuments())
	assert.Equal(t, live.Generator().Vocabulary().Entries(), restored.Generator().Vocabulary().Entries())
	assert.Equal(t, live.Generator().Vocabulary().Len(), res.VocabularyTokens)

	want := live.FindSimilar("gitarre spielen", 5, 0.1)
	got := restored.FindSimilar("gitarre spielen", 5, 0.1)
	require.NotEmpty(t, got)
	assert.Equal(t, ids[0], got[0].ID)
	assert.Equal(t, want, got)
}

func TestRebuildIndex_RegeneratesMalformedVectors(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	live := newIndex()

	good := storeEmbedded(t, st, live, "lena sagte: gitarre spielen")
	broken, err := st.StoreMemory(ctx, &database.Memory{Kind: database.KindChat, Content: "max sagte: gitarre stimmen", Embedding: []byte{1, 2, 3}})
	require.NoError(t, err)
	missing, err := st.StoreMemory(ctx, &database.Memory{Kind: database.KindChat, Content: "tom sagte: gitarre kaufen"})
	require.NoError(t, err)

	restored := newIndex()
	res, err := RebuildIndex(ctx, st, restored, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, 3, res.MemoriesIndexed)
	assert.Equal(t, 2, res.Regenerated)

	for _, id := range []uint{good, broken, missing} {
		assert.True(t, restored.Has(id))
	}

	mem, err := st.Get(ctx, broken)
	require.NoError(t, err)
	vec, err := embeddings.DecodeVector(mem.Embedding, restored.Generator().Dimensions())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, embeddings.Magnitude(vec), 1e-5)
}

func TestRebuildIndex_RefusesLiveIndexWithoutForce(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	idx := newIndex()
	storeEmbedded(t, st, idx, "lena sagte: gitarre spielen")

	_, err := RebuildIndex(ctx, st, idx, Options{Logger: logging.Discard()})
	require.Error(t, err)

	res, err := RebuildIndex(ctx, st, idx, Options{Force: true, Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, 1, res.MemoriesIndexed)
	assert.Equal(t, 1, idx.Generator().Stats().TotalDocuments())
}

func TestRebuildIndex_RegenerateAll(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	live := newIndex()
	storeEmbedded(t, st, live, "lena sagte: gitarre spielen")
	storeEmbedded(t, st, live, "max sagte: kochen pasta")

	res, err := RebuildIndex(ctx, st, newIndex(), Options{Regenerate: true, Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Regenerated)
}

func TestRebuildIndex_VocabularySurvivesDeletedMemories(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	live := newIndex()

	old := storeEmbedded(t, st, live, "tom sagte: urlaub sommer planen")
	kept := storeEmbedded(t, st, live, "Alice sagte: Hallo")

	// drop the memory that introduced the first vocabulary slots
	require.NoError(t, st.DB().Delete(&database.Memory{}, old).Error)

	restored := newIndex()
	res, err := RebuildIndex(ctx, st, restored, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Zero(t, res.Regenerated)
	assert.Equal(t, live.Generator().Vocabulary().Entries(), restored.Generator().Vocabulary().Entries())

	got := restored.FindSimilar("Alice Hallo", 5, 0.1)
	require.Len(t, got, 1)
	assert.Equal(t, kept, got[0].ID)
}

func TestRebuildIndex_ReplaysMissingVocabulary(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)

	// vectors stored without a persisted vocabulary
	legacy := newIndex()
	gen := legacy.Generator()
	var ids []uint
	for _, content := range []string{"tom sagte: urlaub sommer planen", "Alice sagte: Hallo"} {
		gen.Stats().AddDocument(content)
		id, err := st.StoreMemory(ctx, &database.Memory{
			Kind:      database.KindChat,
			Content:   content,
			Embedding: embeddings.Float32SliceToBlob(gen.Embed(content)),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, st.DB().Delete(&database.Memory{}, ids[0]).Error)

	restored := newIndex()
	res, err := RebuildIndex(ctx, st, restored, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Regenerated)

	persisted, err := st.LoadVocabulary(ctx)
	require.NoError(t, err)
	assert.Len(t, persisted, restored.Generator().Vocabulary().Len())
	assert.NotEmpty(t, persisted)

	got := restored.FindSimilar("Alice Hallo", 5, 0.1)
	require.Len(t, got, 1)
	assert.Equal(t, ids[1], got[0].ID)

	// the next load uses the persisted table and keeps the vectors
	again, err := RebuildIndex(ctx, st, newIndex(), Options{Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Zero(t, again.Regenerated)
}
