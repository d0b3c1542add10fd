// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/tejzpr/palmem/internal/database"
	"gorm.io/gorm"
)

// GetOrCreateProfile registers an interaction of username. A new profile
// starts with InteractionCount 1; an existing one is incremented. Both
// LastSeenAt and LastInteractionAt are refreshed.
func (s *Store) GetOrCreateProfile(ctx context.Context, username, nickname string) (*database.UserProfile, error) {
	return s.withProfile(ctx, username, func(p *database.UserProfile, created bool) {
		now := s.now()
		if created {
			p.InteractionCount = 1
		} else {
			p.InteractionCount++
		}
		if nickname != "" {
			p.Nickname = nickname
		}
		p.LastSeenAt = &now
		p.LastInteractionAt = &now
	})
}

// GetProfile returns the profile of username, or false if there is none
func (s *Store) GetProfile(ctx context.Context, username string) (*database.UserProfile, bool) {
	var profile database.UserProfile
	err := s.scoped(ctx).Where("username = ?", username).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false
	}
	if err != nil {
		s.readFailed(ctx, "get_profile", err)
		return nil, false
	}
	return &profile, true
}

// RecordGift adds one gift of value diamonds to the profile of username
func (s *Store) RecordGift(ctx context.Context, username string, value float64) (*database.UserProfile, error) {
	if value < 0 {
		value = 0
	}
	return s.withProfile(ctx, username, func(p *database.UserProfile, _ bool) {
		p.GiftCount++
		p.TotalGiftValue += value
	})
}

// AppendInteraction appends entry to the profile's history, evicting the
// oldest entries beyond the configured bound
func (s *Store) AppendInteraction(ctx context.Context, username string, entry database.InteractionEntry) (*database.UserProfile, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	} else {
		entry.Timestamp = entry.Timestamp.UTC()
	}
	return s.withProfile(ctx, username, func(p *database.UserProfile, _ bool) {
		history := append(p.InteractionHistory, entry)
		if over := len(history) - s.historyLimit; over > 0 {
			history = append([]database.InteractionEntry(nil), history[over:]...)
		}
		p.InteractionHistory = history
	})
}

// UpdateLastTopic records the latest topic username talked about
func (s *Store) UpdateLastTopic(ctx context.Context, username, topic string) (*database.UserProfile, error) {
	return s.withProfile(ctx, username, func(p *database.UserProfile, _ bool) {
		p.LastTopic = topic
	})
}

// RecordAppearance counts one more stream session username showed up in
func (s *Store) RecordAppearance(ctx context.Context, username string) (*database.UserProfile, error) {
	return s.withProfile(ctx, username, func(p *database.UserProfile, _ bool) {
		p.StreamAppearanceCount++
	})
}

// TopSupporters returns the profiles with the highest total gift value
func (s *Store) TopSupporters(ctx context.Context, limit int) []database.UserProfile {
	var profiles []database.UserProfile
	err := s.scoped(ctx).
		Where("total_gift_value > 0").
		Order("total_gift_value DESC").Order("username ASC").
		Limit(normalizeLimit(limit)).
		Find(&profiles).Error
	if err != nil {
		s.readFailed(ctx, "top_supporters", err)
		return []database.UserProfile{}
	}
	return profiles
}

// withProfile loads or initializes the profile of username, applies fn and
// persists the result in one transaction
func (s *Store) withProfile(ctx context.Context, username string, fn func(p *database.UserProfile, created bool)) (*database.UserProfile, error) {
	if strings.TrimSpace(username) == "" {
		return nil, goerr.Wrap(ErrInvalidRecord, "username is required", goerr.V("streamer", s.streamer))
	}

	var profile database.UserProfile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created := false
		err := tx.Where("streamer = ? AND username = ?", s.streamer, username).First(&profile).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			profile = database.UserProfile{Streamer: s.streamer, Username: username}
			created = true
		case err != nil:
			return err
		}

		fn(&profile, created)

		if created {
			return tx.Create(&profile).Error
		}
		return tx.Save(&profile).Error
	})
	if err != nil {
		return nil, goerr.Wrap(storageFailure(err), "failed to update profile",
			goerr.V("streamer", s.streamer), goerr.V("username", username))
	}
	return &profile, nil
}
