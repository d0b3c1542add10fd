// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package store is the durable memory store. Every query and mutation of a
// Store is scoped to one streamer; Settings is the only shared table.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/tejzpr/palmem/internal/database"
	"github.com/tejzpr/palmem/internal/logging"
	"gorm.io/gorm"
)

// Error kinds returned by the store
var (
	ErrStorage       = errors.New("storage failure")
	ErrInvalidRecord = errors.New("invalid record")
	ErrNotFound      = errors.New("record not found")
)

const (
	// MaxInteractionHistoryLimit bounds UserProfile.InteractionHistory
	MaxInteractionHistoryLimit = 50
	// DefaultInteractionHistoryLimit is the history bound of a new Store
	DefaultInteractionHistoryLimit = MaxInteractionHistoryLimit
	// DefaultQueryLimit is used when a read is called with limit <= 0
	DefaultQueryLimit = 10

	// sqlite caps the number of bound variables per statement
	deleteChunkSize = 500
)

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger used for degraded reads
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source. Times are always stored in UTC.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = func() time.Time { return now().UTC() }
		}
	}
}

// WithInteractionHistoryLimit lowers the per-profile history bound. Limits
// outside [1, MaxInteractionHistoryLimit] are clamped into it.
func WithInteractionHistoryLimit(limit int) Option {
	return func(s *Store) {
		s.historyLimit = max(1, min(limit, MaxInteractionHistoryLimit))
	}
}

// Store persists memories, profiles, conversations and archives of one streamer
type Store struct {
	db           *gorm.DB
	streamer     string
	logger       *slog.Logger
	now          func() time.Time
	historyLimit int
}

// New creates a store scoped to streamer
func New(db *gorm.DB, streamer string, opts ...Option) (*Store, error) {
	streamer = strings.TrimSpace(streamer)
	if streamer == "" {
		return nil, goerr.Wrap(ErrInvalidRecord, "streamer scope is required")
	}

	s := &Store{
		db:           db,
		streamer:     streamer,
		logger:       logging.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		historyLimit: DefaultInteractionHistoryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Streamer returns the tenant scope of the store
func (s *Store) Streamer() string {
	return s.streamer
}

// DB returns the underlying connection
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Now returns the store clock's current time
func (s *Store) Now() time.Time {
	return s.now()
}

// Stats holds row counts for one streamer
type Stats struct {
	Memories      int64 `json:"memories"`
	Profiles      int64 `json:"profiles"`
	Conversations int64 `json:"conversations"`
	Archives      int64 `json:"archives"`
}

// Stats counts the streamer's rows in every scoped table
func (s *Store) Stats(ctx context.Context) Stats {
	var st Stats
	counts := []struct {
		model any
		dst   *int64
	}{
		{&database.Memory{}, &st.Memories},
		{&database.UserProfile{}, &st.Profiles},
		{&database.ConversationTurn{}, &st.Conversations},
		{&database.Archive{}, &st.Archives},
	}
	for _, c := range counts {
		if err := s.scoped(ctx).Model(c.model).Count(c.dst).Error; err != nil {
			s.readFailed(ctx, "count", err)
		}
	}
	return st
}

// scoped returns a statement filtered to the store's streamer
func (s *Store) scoped(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Where("streamer = ?", s.streamer)
}

// readFailed logs a read error; reads degrade to empty results
func (s *Store) readFailed(ctx context.Context, op string, err error) {
	s.logger.WarnContext(ctx, "store read failed",
		"op", op,
		"streamer", s.streamer,
		"error", err,
	)
}

// storageFailure marks err as ErrStorage while keeping the cause
func storageFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// ClampImportance forces v into [0, 1]; NaN becomes 0
func ClampImportance(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	return limit
}

func daysAgo(now time.Time, days int) time.Time {
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}
