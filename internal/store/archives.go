// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/tejzpr/palmem/internal/database"
)

// ArchiveInput describes a summary over a set of memories
type ArchiveInput struct {
	Summary   string
	MemoryIDs []uint
	Start     time.Time
	End       time.Time
	KeyTopics []string
	KeyUsers  []string
}

// Archive stores a summary record. The referenced memories are left as they are.
func (s *Store) Archive(ctx context.Context, in ArchiveInput) (uint, error) {
	if strings.TrimSpace(in.Summary) == "" {
		return 0, goerr.Wrap(ErrInvalidRecord, "archive summary is required")
	}
	if len(in.MemoryIDs) == 0 {
		return 0, goerr.Wrap(ErrInvalidRecord, "archive must reference at least one memory")
	}

	rec := &database.Archive{
		Streamer:       s.streamer,
		SummaryText:    in.Summary,
		MemoryIDs:      in.MemoryIDs,
		TimeRangeStart: in.Start.UTC(),
		TimeRangeEnd:   in.End.UTC(),
		KeyTopics:      nonNil(in.KeyTopics),
		KeyUsers:       nonNil(in.KeyUsers),
		CreatedAt:      s.now(),
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return 0, goerr.Wrap(storageFailure(err), "failed to store archive",
			goerr.V("streamer", s.streamer), goerr.V("memories", len(in.MemoryIDs)))
	}
	return rec.ID, nil
}

// ListArchives returns the newest archives
func (s *Store) ListArchives(ctx context.Context, limit int) []database.Archive {
	var archives []database.Archive
	err := s.scoped(ctx).Order("created_at DESC").Order("id DESC").Limit(normalizeLimit(limit)).Find(&archives).Error
	if err != nil {
		s.readFailed(ctx, "list_archives", err)
		return []database.Archive{}
	}
	return archives
}

// ArchivedMemoryIDs returns every memory ID referenced by any archive
func (s *Store) ArchivedMemoryIDs(ctx context.Context) map[uint]struct{} {
	ids := make(map[uint]struct{})

	var archives []database.Archive
	if err := s.scoped(ctx).Select("memory_ids").Find(&archives).Error; err != nil {
		s.readFailed(ctx, "archived_memory_ids", err)
		return ids
	}
	for _, a := range archives {
		for _, id := range a.MemoryIDs {
			ids[id] = struct{}{}
		}
	}
	return ids
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
