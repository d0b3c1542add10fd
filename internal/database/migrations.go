// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// AllModels returns all database models for migration
func AllModels() []interface{} {
	return []interface{}{
		&Memory{},
		&UserProfile{},
		&ConversationTurn{},
		&Archive{},
		&PersonalitySetting{},
		&StreamerLease{},
		&VocabularyToken{},
	}
}

// Migrate runs database migrations for all models
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// DropAllTables drops all tables (use with caution!)
func DropAllTables(db *gorm.DB) error {
	models := AllModels()
	for i := len(models) - 1; i >= 0; i-- {
		if err := db.Migrator().DropTable(models[i]); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	return nil
}

// CreateIndexes creates the composite indexes used by scoped recency,
// importance and per-user lookups
func CreateIndexes(db *gorm.DB) error {
	indexes := []struct {
		table   string
		columns []string
		name    string
	}{
		{
			table:   "memories",
			columns: []string{"streamer", "created_at"},
			name:    "idx_memories_streamer_created",
		},
		{
			table:   "memories",
			columns: []string{"streamer", "importance"},
			name:    "idx_memories_streamer_importance",
		},
		{
			table:   "memories",
			columns: []string{"streamer", "source_user", "created_at"},
			name:    "idx_memories_streamer_user",
		},
		{
			table:   "memories",
			columns: []string{"streamer", "kind", "created_at"},
			name:    "idx_memories_streamer_kind",
		},
		{
			table:   "conversations",
			columns: []string{"streamer", "session_id", "created_at"},
			name:    "idx_conversations_session",
		},
		{
			table:   "vocabulary",
			columns: []string{"streamer", "ordinal"},
			name:    "idx_vocabulary_streamer_ordinal",
		},
		{
			table:   "user_profiles",
			columns: []string{"streamer", "total_gift_value"},
			name:    "idx_profiles_streamer_gifts",
		},
	}

	for _, idx := range indexes {
		if db.Migrator().HasIndex(idx.table, idx.name) {
			continue
		}
		sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			idx.name,
			idx.table,
			strings.Join(idx.columns, ", "))

		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	return nil
}

// Setup migrates all tables and creates indexes
func Setup(db *gorm.DB) error {
	if err := Migrate(db); err != nil {
		return err
	}
	return CreateIndexes(db)
}
