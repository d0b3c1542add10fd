// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tejzpr/palmem/internal/database"
	"github.com/tejzpr/palmem/internal/gate"
	"github.com/tejzpr/palmem/internal/store"
)

const (
	// maxConsolidationCandidates bounds one O(n²) clustering pass
	maxConsolidationCandidates = 500
	archiveKeywordCount        = 5
	summaryDateFormat          = "02.01.2006 15:04"
)

// ConsolidationResult reports one consolidation pass
type ConsolidationResult struct {
	Candidates int    `json:"candidates"`
	ArchiveIDs []uint `json:"archive_ids"`
}

// MaintenanceResult reports one maintenance pass
type MaintenanceResult struct {
	ConversationsPurged int64                `json:"conversations_purged"`
	MemoriesPruned      int                  `json:"memories_pruned"`
	Consolidation       *ConsolidationResult `json:"consolidation,omitempty"`
}

// Stats describes the live state of an engine
type Stats struct {
	Store      store.Stats `json:"store"`
	Indexed    int         `json:"indexed"`
	Documents  int         `json:"documents"`
	Vocabulary int         `json:"vocabulary"`
	Gate       gate.State  `json:"gate"`
}

// Stats returns row counts and in-memory index sizes
func (e *Engine) Stats(ctx context.Context) Stats {
	return Stats{
		Store:      e.st.Stats(ctx),
		Indexed:    e.index.Len(),
		Documents:  e.stats.TotalDocuments(),
		Vocabulary: e.embedder.Vocabulary().Len(),
		Gate:       e.gate.State(),
	}
}

// Prune applies the memory retention rule and drops the deleted memories
// from the index and the corpus statistics
func (e *Engine) Prune(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prune(ctx)
}

func (e *Engine) prune(ctx context.Context) (int, error) {
	r := e.cfg.Retention
	deleted, err := e.st.Prune(ctx, r.MemoryDays, r.PruneMaxImportance)
	if err != nil {
		return 0, err
	}
	for _, m := range deleted {
		e.index.Remove(m.ID)
		e.stats.RemoveDocument(m.Content)
	}
	return len(deleted), nil
}

// Consolidate clusters memories older than the archive age that no archive
// references yet and writes one archive per cluster. The memories themselves
// stay in the store and in the index.
func (e *Engine) Consolidate(ctx context.Context) (*ConsolidationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	return e.consolidate(ctx)
}

func (e *Engine) consolidate(ctx context.Context) (*ConsolidationResult, error) {
	r := e.cfg.Retention
	cutoff := e.now().Add(-time.Duration(r.ArchiveAfterDays) * 24 * time.Hour)
	archived := e.st.ArchivedMemoryIDs(ctx)

	candidates, err := e.st.LatestBefore(ctx, cutoff, maxConsolidationCandidates, archived)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]database.Memory, len(candidates))
	ids := make([]uint, 0, len(candidates))
	for _, m := range candidates {
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}
	slices.Sort(ids)

	minSize := max(r.MinClusterSize, 1)
	result := &ConsolidationResult{Candidates: len(ids), ArchiveIDs: []uint{}}
	for _, cluster := range e.index.ClusterIDs(ids, r.ClusterSimilarity) {
		if len(cluster) < minSize {
			continue
		}
		members := make([]database.Memory, 0, len(cluster))
		for _, id := range cluster {
			members = append(members, byID[id])
		}

		archiveID, err := e.st.Archive(ctx, e.summarize(members))
		if err != nil {
			return result, err
		}
		result.ArchiveIDs = append(result.ArchiveIDs, archiveID)
	}

	if len(result.ArchiveIDs) > 0 {
		e.logger.InfoContext(ctx, "memories consolidated", "candidates", result.Candidates, "archives", len(result.ArchiveIDs))
	}
	return result, nil
}

// summarize builds the archive record of one cluster
func (e *Engine) summarize(members []database.Memory) store.ArchiveInput {
	in := store.ArchiveInput{
		Start: members[0].CreatedAt,
		End:   members[0].CreatedAt,
	}

	var payloads []string
	for _, m := range members {
		in.MemoryIDs = append(in.MemoryIDs, m.ID)
		if m.Payload != "" {
			payloads = append(payloads, m.Payload)
		}
		if m.CreatedAt.Before(in.Start) {
			in.Start = m.CreatedAt
		}
		if m.CreatedAt.After(in.End) {
			in.End = m.CreatedAt
		}
		if m.SourceUser != "" && !slices.Contains(in.KeyUsers, m.SourceUser) {
			in.KeyUsers = append(in.KeyUsers, m.SourceUser)
		}
	}

	users := make(map[string]struct{}, len(in.KeyUsers))
	for _, u := range in.KeyUsers {
		users[strings.ToLower(u)] = struct{}{}
	}
	for _, kw := range e.index.ExtractKeywords(strings.Join(payloads, " "), archiveKeywordCount+len(users)) {
		if _, isUser := users[kw.Token]; isUser {
			continue
		}
		if len(in.KeyTopics) == archiveKeywordCount {
			break
		}
		in.KeyTopics = append(in.KeyTopics, kw.Token)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d Erinnerungen (%s bis %s)", len(members),
		in.Start.Format(summaryDateFormat), in.End.Format(summaryDateFormat))
	if len(in.KeyTopics) > 0 {
		fmt.Fprintf(&b, " über %s", strings.Join(in.KeyTopics, ", "))
	}
	if len(in.KeyUsers) > 0 {
		fmt.Fprintf(&b, " mit %s", strings.Join(in.KeyUsers, ", "))
	}
	fmt.Fprintf(&b, ". Zum Beispiel: %s", members[0].Content)
	in.Summary = b.String()
	return in
}

// Maintain purges old conversation turns, prunes memories and consolidates.
// Every step runs even if an earlier one fails.
func (e *Engine) Maintain(ctx context.Context) (*MaintenanceResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	result := &MaintenanceResult{}
	var errs []error

	purged, err := e.st.PurgeConversationsOlderThan(ctx, e.cfg.Retention.ConversationDays)
	if err != nil {
		errs = append(errs, err)
	}
	result.ConversationsPurged = purged

	pruned, err := e.prune(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	result.MemoriesPruned = pruned

	consolidation, err := e.consolidate(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	result.Consolidation = consolidation

	e.logger.InfoContext(ctx, "maintenance finished",
		"conversations_purged", result.ConversationsPurged,
		"memories_pruned", result.MemoriesPruned,
		"errors", len(errs),
	)
	return result, errors.Join(errs...)
}

// Close drops the in-memory state without writing to the store. The engine
// rejects further mutations afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.index.Clear()
}

// Shutdown clears the index, purges old conversation turns and runs one
// prune pass. The engine rejects further mutations afterwards.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	e.index.Clear()

	var errs []error
	if _, err := e.st.PurgeConversationsOlderThan(ctx, e.cfg.Retention.ConversationDays); err != nil {
		errs = append(errs, err)
	}
	if _, err := e.prune(ctx); err != nil {
		errs = append(errs, err)
	}
	e.logger.InfoContext(ctx, "engine shut down", "errors", len(errs))
	return errors.Join(errs...)
}
