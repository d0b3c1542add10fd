// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package rebuild restores the in-memory corpus statistics and similarity
// index of a streamer from the durable store.
package rebuild

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/tejzpr/palmem/internal/database"
	"github.com/tejzpr/palmem/internal/embeddings"
	"github.com/tejzpr/palmem/internal/logging"
	"github.com/tejzpr/palmem/internal/store"
)

const defaultBatchSize = 200

// Options configures rebuild behavior
type Options struct {
	Force      bool // Clear a non-empty index before rebuilding
	Regenerate bool // Re-embed every memory, not only malformed ones
	BatchSize  int
	Logger     *slog.Logger
}

// Result contains statistics from the rebuild operation
type Result struct {
	MemoriesProcessed int
	MemoriesIndexed   int
	Regenerated       int
	VocabularyTokens  int
	Errors            []string
}

// RebuildIndex replays every memory of st into the generator's corpus
// statistics, restores the persisted vocabulary, then loads the stored
// vectors into idx. Vectors that are absent, undecodable or of the wrong
// dimension are regenerated from the memory content and written back.
//
// A store without a persisted vocabulary gets one replayed from its
// memories, and all of its vectors are regenerated against it.
func RebuildIndex(ctx context.Context, st *store.Store, idx *embeddings.Index, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.From(ctx)
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	if err := handleExistingIndex(idx, opts); err != nil {
		return nil, err
	}

	gen := idx.Generator()
	result := &Result{}

	// First pass: corpus statistics
	err := st.ForEachMemory(ctx, batchSize, func(batch []database.Memory) error {
		for _, m := range batch {
			gen.Stats().AddDocument(m.Content)
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to replay corpus statistics", goerr.V("streamer", st.Streamer()))
	}

	regenerateAll := opts.Regenerate
	replayed, err := restoreVocabulary(ctx, st, gen, batchSize)
	if err != nil {
		return nil, err
	}
	if replayed {
		logger.Info("vocabulary replayed from memories, regenerating vectors", "streamer", st.Streamer())
		regenerateAll = true
	}
	result.VocabularyTokens = gen.Vocabulary().Len()

	// Second pass: load or regenerate vectors
	err = st.ForEachMemory(ctx, batchSize, func(batch []database.Memory) error {
		for _, m := range batch {
			result.MemoriesProcessed++

			vec, decodeErr := embeddings.DecodeVector(m.Embedding, gen.Dimensions())
			if decodeErr != nil || regenerateAll {
				if decodeErr != nil {
					logger.Debug("regenerating embedding", "id", m.ID, "reason", decodeErr)
				}
				var entries []embeddings.Entry
				vec, entries = gen.EmbedDocument(m.Content)
				if err := st.SaveVocabulary(ctx, VocabularyTokens(entries)); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("memory %d: %v", m.ID, err))
					continue
				}
				gen.Vocabulary().Commit(entries)
				if err := st.SetEmbedding(ctx, m.ID, embeddings.Float32SliceToBlob(vec)); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("memory %d: %v", m.ID, err))
				}
				result.Regenerated++
			}

			if err := idx.Insert(m.ID, vec); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("memory %d: %v", m.ID, err))
				continue
			}
			result.MemoriesIndexed++
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load vectors", goerr.V("streamer", st.Streamer()))
	}

	logger.Info("similarity index rebuilt",
		"streamer", st.Streamer(),
		"processed", result.MemoriesProcessed,
		"indexed", result.MemoriesIndexed,
		"regenerated", result.Regenerated,
		"vocabulary", result.VocabularyTokens,
		"errors", len(result.Errors),
	)
	return result, nil
}

// restoreVocabulary loads the persisted vocabulary into gen. When nothing is
// persisted but memories exist, it replays the vocabulary from the memories
// in ID order, persists it and reports true.
func restoreVocabulary(ctx context.Context, st *store.Store, gen *embeddings.Generator, batchSize int) (bool, error) {
	tokens, err := st.LoadVocabulary(ctx)
	if err != nil {
		return false, err
	}
	if len(tokens) > 0 {
		entries := make([]embeddings.Entry, len(tokens))
		for i, t := range tokens {
			entries[i] = embeddings.Entry{Token: t.Token, Ordinal: t.Ordinal}
		}
		gen.Vocabulary().Commit(entries)
		return false, nil
	}
	if gen.Stats().TotalDocuments() == 0 {
		return false, nil
	}

	err = st.ForEachMemory(ctx, batchSize, func(batch []database.Memory) error {
		for _, m := range batch {
			gen.Observe(m.Content)
		}
		return nil
	})
	if err != nil {
		return false, goerr.Wrap(err, "failed to replay vocabulary", goerr.V("streamer", st.Streamer()))
	}
	if err := st.SaveVocabulary(ctx, VocabularyTokens(gen.Vocabulary().Entries())); err != nil {
		return false, err
	}
	return true, nil
}

// VocabularyTokens converts vocabulary entries to their persisted form
func VocabularyTokens(entries []embeddings.Entry) []database.VocabularyToken {
	if len(entries) == 0 {
		return nil
	}
	tokens := make([]database.VocabularyToken, len(entries))
	for i, e := range entries {
		tokens[i] = database.VocabularyToken{Token: e.Token, Ordinal: e.Ordinal}
	}
	return tokens
}

// handleExistingIndex refuses to rebuild over live state unless forced
func handleExistingIndex(idx *embeddings.Index, opts Options) error {
	gen := idx.Generator()
	if idx.Len() > 0 || gen.Stats().TotalDocuments() > 0 {
		if !opts.Force {
			return goerr.New("similarity index already holds data; use Force to clear and rebuild",
				goerr.V("vectors", idx.Len()), goerr.V("documents", gen.Stats().TotalDocuments()))
		}
		idx.Clear()
		gen.Stats().Reset()
		gen.Vocabulary().Reset()
	}
	return nil
}
