// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/tejzpr/palmem/internal/database"
	"github.com/tejzpr/palmem/internal/logging"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Settings is the personality key/value table shared by all streamers
type Settings struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewSettings creates a settings accessor; a nil logger uses the default
func NewSettings(db *gorm.DB, logger *slog.Logger) *Settings {
	if logger == nil {
		logger = logging.Default()
	}
	return &Settings{db: db, logger: logger}
}

// Get returns the value stored under key
func (s *Settings) Get(ctx context.Context, key string) (string, bool) {
	var setting database.PersonalitySetting
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false
	}
	if err != nil {
		s.logger.WarnContext(ctx, "settings read failed", "key", key, "error", err)
		return "", false
	}
	return setting.Value, true
}

// Set upserts key
func (s *Settings) Set(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return goerr.Wrap(ErrInvalidRecord, "setting key is required")
	}

	setting := database.PersonalitySetting{Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return goerr.Wrap(storageFailure(err), "failed to store setting", goerr.V("key", key))
	}
	return nil
}

// All returns every setting
func (s *Settings) All(ctx context.Context) map[string]string {
	var settings []database.PersonalitySetting
	out := make(map[string]string)
	if err := s.db.WithContext(ctx).Find(&settings).Error; err != nil {
		s.logger.WarnContext(ctx, "settings read failed", "error", err)
		return out
	}
	for _, st := range settings {
		out[st.Key] = st.Value
	}
	return out
}

// ImportYAML upserts every top-level key of a YAML mapping and returns the
// number of keys written
func (s *Settings) ImportYAML(ctx context.Context, r io.Reader) (int, error) {
	values := map[string]string{}
	if err := yaml.NewDecoder(r).Decode(&values); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, goerr.Wrap(errors.Join(ErrInvalidRecord, err), "failed to parse personality file")
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := s.Set(ctx, k, values[k]); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// ImportFile imports the file at path: ImportMarkdown for .md files,
// ImportYAML for everything else
func (s *Settings) ImportFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to open personality file", goerr.V("path", path))
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return s.ImportMarkdown(ctx, f)
	default:
		return s.ImportYAML(ctx, f)
	}
}
