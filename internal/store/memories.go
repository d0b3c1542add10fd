// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/tejzpr/palmem/internal/database"
	"gorm.io/gorm"
)

// StoreMemory inserts rec under the store's streamer and returns the new ID.
// Importance is clamped to [0, 1] and CreatedAt defaults to now.
func (s *Store) StoreMemory(ctx context.Context, rec *database.Memory) (uint, error) {
	return s.StoreMemoryWithVocabulary(ctx, rec, nil)
}

// StoreMemoryWithVocabulary is StoreMemory that also persists the vocabulary
// tokens rec's embedding was generated with, in the same transaction
func (s *Store) StoreMemoryWithVocabulary(ctx context.Context, rec *database.Memory, tokens []database.VocabularyToken) (uint, error) {
	if rec == nil || strings.TrimSpace(rec.Content) == "" {
		return 0, goerr.Wrap(ErrInvalidRecord, "memory content is required", goerr.V("streamer", s.streamer))
	}

	rec.ID = 0
	rec.Streamer = s.streamer
	rec.Importance = ClampImportance(rec.Importance)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	} else {
		rec.CreatedAt = rec.CreatedAt.UTC()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		return s.saveVocabulary(tx, tokens)
	})
	if err != nil {
		rec.ID = 0
		return 0, goerr.Wrap(storageFailure(err), "failed to store memory",
			goerr.V("streamer", s.streamer), goerr.V("kind", rec.Kind))
	}
	return rec.ID, nil
}

// Get returns a single memory of the streamer
func (s *Store) Get(ctx context.Context, id uint) (*database.Memory, error) {
	var mem database.Memory
	err := s.scoped(ctx).Where("id = ?", id).First(&mem).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, goerr.Wrap(ErrNotFound, "memory not found", goerr.V("id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(storageFailure(err), "failed to load memory", goerr.V("id", id))
	}
	return &mem, nil
}

// GetRecent returns the newest memories, optionally restricted to kinds
func (s *Store) GetRecent(ctx context.Context, limit int, kinds ...string) []database.Memory {
	q := s.scoped(ctx)
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}

	var mems []database.Memory
	if err := q.Order("created_at DESC").Order("id DESC").Limit(normalizeLimit(limit)).Find(&mems).Error; err != nil {
		s.readFailed(ctx, "get_recent", err)
		return []database.Memory{}
	}
	return mems
}

// GetImportant returns memories with importance >= minImportance, most important first
func (s *Store) GetImportant(ctx context.Context, minImportance float64, limit int) []database.Memory {
	var mems []database.Memory
	err := s.scoped(ctx).
		Where("importance >= ?", minImportance).
		Order("importance DESC").Order("created_at DESC").Order("id DESC").
		Limit(normalizeLimit(limit)).
		Find(&mems).Error
	if err != nil {
		s.readFailed(ctx, "get_important", err)
		return []database.Memory{}
	}
	return mems
}

// SearchByContent returns the newest memories whose content contains substring
func (s *Store) SearchByContent(ctx context.Context, substring string, limit int) []database.Memory {
	if substring == "" {
		return []database.Memory{}
	}

	var mems []database.Memory
	err := s.scoped(ctx).
		Where(`content LIKE ? ESCAPE '\'`, "%"+escapeLike(substring)+"%").
		Order("created_at DESC").Order("id DESC").
		Limit(normalizeLimit(limit)).
		Find(&mems).Error
	if err != nil {
		s.readFailed(ctx, "search_by_content", err)
		return []database.Memory{}
	}
	return mems
}

// GetByUser returns the newest memories attributed to username
func (s *Store) GetByUser(ctx context.Context, username string, limit int) []database.Memory {
	if username == "" {
		return []database.Memory{}
	}

	var mems []database.Memory
	err := s.scoped(ctx).
		Where("source_user = ?", username).
		Order("created_at DESC").Order("id DESC").
		Limit(normalizeLimit(limit)).
		Find(&mems).Error
	if err != nil {
		s.readFailed(ctx, "get_by_user", err)
		return []database.Memory{}
	}
	return mems
}

// GetByIDs returns the streamer's memories for ids, in the order of ids.
// Unknown IDs and IDs of other streamers are skipped.
func (s *Store) GetByIDs(ctx context.Context, ids []uint) []database.Memory {
	if len(ids) == 0 {
		return []database.Memory{}
	}

	var mems []database.Memory
	if err := s.scoped(ctx).Where("id IN ?", ids).Find(&mems).Error; err != nil {
		s.readFailed(ctx, "get_by_ids", err)
		return []database.Memory{}
	}

	byID := make(map[uint]database.Memory, len(mems))
	for _, m := range mems {
		byID[m.ID] = m
	}
	ordered := make([]database.Memory, 0, len(mems))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			ordered = append(ordered, m)
			delete(byID, id)
		}
	}
	return ordered
}

// GetBetween returns memories created in [start, end), oldest first
func (s *Store) GetBetween(ctx context.Context, start, end time.Time, limit int) []database.Memory {
	var mems []database.Memory
	err := s.scoped(ctx).
		Where("created_at >= ? AND created_at < ?", start.UTC(), end.UTC()).
		Order("created_at ASC").Order("id ASC").
		Limit(normalizeLimit(limit)).
		Find(&mems).Error
	if err != nil {
		s.readFailed(ctx, "get_between", err)
		return []database.Memory{}
	}
	return mems
}

// ForEachMemory walks all of the streamer's memories in ID order, batchSize at a time
func (s *Store) ForEachMemory(ctx context.Context, batchSize int, fn func([]database.Memory) error) error {
	return s.ForEachMemoryBefore(ctx, time.Time{}, batchSize, fn)
}

// ForEachMemoryBefore is ForEachMemory restricted to memories created
// before the given time. A zero time means no restriction.
func (s *Store) ForEachMemoryBefore(ctx context.Context, before time.Time, batchSize int, fn func([]database.Memory) error) error {
	if batchSize <= 0 {
		batchSize = 200
	}

	q := s.scoped(ctx)
	if !before.IsZero() {
		q = q.Where("created_at < ?", before.UTC())
	}

	var batch []database.Memory
	result := q.Order("id ASC").FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
		return fn(batch)
	})
	if result.Error != nil {
		return goerr.Wrap(storageFailure(result.Error), "failed to walk memories", goerr.V("streamer", s.streamer))
	}
	return nil
}

// LatestBefore returns up to limit memories created before the given time,
// highest ID first, leaving out the IDs in exclude
func (s *Store) LatestBefore(ctx context.Context, before time.Time, limit int, exclude map[uint]struct{}) ([]database.Memory, error) {
	limit = normalizeLimit(limit)
	const pageSize = 200

	var out []database.Memory
	var lastID uint
	for len(out) < limit {
		q := s.scoped(ctx).Where("created_at < ?", before.UTC())
		if lastID > 0 {
			q = q.Where("id < ?", lastID)
		}
		var page []database.Memory
		if err := q.Order("id DESC").Limit(pageSize).Find(&page).Error; err != nil {
			return nil, goerr.Wrap(storageFailure(err), "failed to list memories", goerr.V("streamer", s.streamer))
		}
		for _, m := range page {
			lastID = m.ID
			if _, skip := exclude[m.ID]; skip {
				continue
			}
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
		if len(page) < pageSize {
			break
		}
	}
	return out, nil
}

// BumpImportance re-scores a memory and counts it as accessed
func (s *Store) BumpImportance(ctx context.Context, id uint, newValue float64) error {
	result := s.scoped(ctx).Model(&database.Memory{}).Where("id = ?", id).Updates(map[string]any{
		"importance":       ClampImportance(newValue),
		"access_count":     gorm.Expr("access_count + 1"),
		"last_accessed_at": s.now(),
	})
	if result.Error != nil {
		return goerr.Wrap(storageFailure(result.Error), "failed to update importance", goerr.V("id", id))
	}
	if result.RowsAffected == 0 {
		return goerr.Wrap(ErrNotFound, "memory not found", goerr.V("id", id))
	}
	return nil
}

// MarkAccessed increments access stats of every memory in ids
func (s *Store) MarkAccessed(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.scoped(ctx).Model(&database.Memory{}).Where("id IN ?", ids).Updates(map[string]any{
		"access_count":     gorm.Expr("access_count + 1"),
		"last_accessed_at": s.now(),
	}).Error
	if err != nil {
		return goerr.Wrap(storageFailure(err), "failed to mark memories accessed", goerr.V("count", len(ids)))
	}
	return nil
}

// SetEmbedding stores a (re)generated vector blob for a memory
func (s *Store) SetEmbedding(ctx context.Context, id uint, blob []byte) error {
	result := s.scoped(ctx).Model(&database.Memory{}).Where("id = ?", id).Update("embedding", blob)
	if result.Error != nil {
		return goerr.Wrap(storageFailure(result.Error), "failed to store embedding", goerr.V("id", id))
	}
	if result.RowsAffected == 0 {
		return goerr.Wrap(ErrNotFound, "memory not found", goerr.V("id", id))
	}
	return nil
}

// Prune deletes memories older than days whose importance is below
// maxImportance and returns the deleted records with ID and content set.
// Memories at or above maxImportance are never deleted, however old.
func (s *Store) Prune(ctx context.Context, days int, maxImportance float64) ([]database.Memory, error) {
	cutoff := daysAgo(s.now(), days)

	var victims []database.Memory
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id", "content").
			Where("streamer = ? AND created_at < ? AND importance < ?", s.streamer, cutoff, maxImportance).
			Order("id ASC").
			Find(&victims).Error; err != nil {
			return err
		}

		ids := make([]uint, len(victims))
		for i, v := range victims {
			ids[i] = v.ID
		}
		for start := 0; start < len(ids); start += deleteChunkSize {
			end := min(start+deleteChunkSize, len(ids))
			if err := tx.Where("streamer = ? AND id IN ?", s.streamer, ids[start:end]).
				Delete(&database.Memory{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(storageFailure(err), "failed to prune memories",
			goerr.V("streamer", s.streamer), goerr.V("days", days), goerr.V("max_importance", maxImportance))
	}
	return victims, nil
}

// PruneOlderThan is Prune reporting only the number of deleted memories
func (s *Store) PruneOlderThan(ctx context.Context, days int, maxImportance float64) (int64, error) {
	deleted, err := s.Prune(ctx, days, maxImportance)
	if err != nil {
		return 0, err
	}
	return int64(len(deleted)), nil
}

// CountMemories returns the number of the streamer's memories
func (s *Store) CountMemories(ctx context.Context) int64 {
	var n int64
	if err := s.scoped(ctx).Model(&database.Memory{}).Count(&n).Error; err != nil {
		s.readFailed(ctx, "count_memories", err)
		return 0
	}
	return n
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
