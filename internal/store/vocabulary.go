// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/tejzpr/palmem/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LoadVocabulary returns the streamer's vocabulary ordered by ordinal.
// Unlike other reads it reports failures: a partial vocabulary would
// silently misplace every token that follows the gap.
func (s *Store) LoadVocabulary(ctx context.Context) ([]database.VocabularyToken, error) {
	var tokens []database.VocabularyToken
	if err := s.scoped(ctx).Order("ordinal ASC").Find(&tokens).Error; err != nil {
		return nil, goerr.Wrap(storageFailure(err), "failed to load vocabulary", goerr.V("streamer", s.streamer))
	}
	return tokens, nil
}

// SaveVocabulary persists tokens. Tokens already stored keep their ordinal.
func (s *Store) SaveVocabulary(ctx context.Context, tokens []database.VocabularyToken) error {
	if err := s.saveVocabulary(s.db.WithContext(ctx), tokens); err != nil {
		return goerr.Wrap(storageFailure(err), "failed to save vocabulary",
			goerr.V("streamer", s.streamer), goerr.V("count", len(tokens)))
	}
	return nil
}

func (s *Store) saveVocabulary(tx *gorm.DB, tokens []database.VocabularyToken) error {
	if len(tokens) == 0 {
		return nil
	}
	rows := make([]database.VocabularyToken, len(tokens))
	for i, t := range tokens {
		rows[i] = database.VocabularyToken{Streamer: s.streamer, Token: t.Token, Ordinal: t.Ordinal}
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, deleteChunkSize/3).Error
}
