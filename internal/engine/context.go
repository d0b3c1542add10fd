// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"context"

	"github.com/tejzpr/palmem/internal/database"
	"github.com/tejzpr/palmem/internal/embeddings"
)

// AssembleContext returns up to maxItems distinct memory contents relevant
// to query: similar memories first, then the user's recent memories, then
// globally important ones. maxItems <= 0 uses the configured default.
func (e *Engine) AssembleContext(ctx context.Context, query, username string, maxItems int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.assembleContext(ctx, query, username, maxItems)
}

func (e *Engine) assembleContext(ctx context.Context, query, username string, maxItems int) []string {
	if maxItems <= 0 {
		maxItems = e.cfg.Context.MaxItems
	}
	cc := e.cfg.Context

	matches := e.index.FindSimilar(query, cc.SimilarLimit, cc.SimilarityFloor)
	ids := make([]uint, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}

	pools := [][]database.Memory{e.st.GetByIDs(ctx, ids)}
	if username != "" {
		pools = append(pools, e.st.GetByUser(ctx, username, cc.UserLimit))
	}
	pools = append(pools, e.st.GetImportant(ctx, cc.ImportantThreshold, cc.ImportantLimit))

	contents := make([]string, 0, maxItems)
	seen := make(map[string]struct{})
	var used []uint

merge:
	for _, pool := range pools {
		for _, m := range pool {
			if len(contents) >= maxItems {
				break merge
			}
			if _, dup := seen[m.Content]; dup {
				continue
			}
			seen[m.Content] = struct{}{}
			contents = append(contents, m.Content)
			used = append(used, m.ID)
		}
	}

	if !e.closed {
		if err := e.st.MarkAccessed(ctx, used); err != nil {
			e.logger.WarnContext(ctx, "failed to update access stats", "error", err)
		}
	}
	return contents
}

// FindSimilar ranks indexed memories by similarity to query
func (e *Engine) FindSimilar(query string, topK int, threshold float64) []embeddings.Match {
	return e.index.FindSimilar(query, topK, threshold)
}

// ExtractKeywords returns the highest tf*idf tokens of text
func (e *Engine) ExtractKeywords(text string, topK int) []embeddings.Keyword {
	return e.index.ExtractKeywords(text, topK)
}

// Cluster partitions all indexed memories by single-link similarity
func (e *Engine) Cluster(minSimilarity float64) [][]uint {
	return e.index.Cluster(minSimilarity)
}
