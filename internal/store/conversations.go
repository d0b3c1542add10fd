// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"context"
	"slices"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/tejzpr/palmem/internal/database"
)

// Turn is the input of AppendTurn
type Turn struct {
	SessionID string
	Role      string
	Content   string
	Speaker   string
	Emotion   string
}

// AppendTurn appends one line to a session transcript
func (s *Store) AppendTurn(ctx context.Context, turn Turn) (*database.ConversationTurn, error) {
	if strings.TrimSpace(turn.SessionID) == "" {
		return nil, goerr.Wrap(ErrInvalidRecord, "session id is required")
	}
	if turn.Role != database.RoleUser && turn.Role != database.RoleAssistant {
		return nil, goerr.Wrap(ErrInvalidRecord, "unknown conversation role", goerr.V("role", turn.Role))
	}
	if strings.TrimSpace(turn.Content) == "" {
		return nil, goerr.Wrap(ErrInvalidRecord, "turn content is required")
	}

	rec := &database.ConversationTurn{
		Streamer:        s.streamer,
		SessionID:       turn.SessionID,
		Role:            turn.Role,
		Content:         turn.Content,
		SpeakerUsername: turn.Speaker,
		Emotion:         turn.Emotion,
		CreatedAt:       s.now(),
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, goerr.Wrap(storageFailure(err), "failed to append conversation turn",
			goerr.V("streamer", s.streamer), goerr.V("session_id", turn.SessionID))
	}
	return rec, nil
}

// GetHistory returns the last limit turns of a session in chronological order
func (s *Store) GetHistory(ctx context.Context, sessionID string, limit int) []database.ConversationTurn {
	var turns []database.ConversationTurn
	err := s.scoped(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").Order("id DESC").
		Limit(normalizeLimit(limit)).
		Find(&turns).Error
	if err != nil {
		s.readFailed(ctx, "get_history", err)
		return []database.ConversationTurn{}
	}
	slices.Reverse(turns)
	return turns
}

// PurgeConversationsOlderThan deletes turns older than days, across sessions
func (s *Store) PurgeConversationsOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := daysAgo(s.now(), days)
	result := s.db.WithContext(ctx).
		Where("streamer = ? AND created_at < ?", s.streamer, cutoff).
		Delete(&database.ConversationTurn{})
	if result.Error != nil {
		return 0, goerr.Wrap(storageFailure(result.Error), "failed to purge conversations",
			goerr.V("streamer", s.streamer), goerr.V("days", days))
	}
	return result.RowsAffected, nil
}
