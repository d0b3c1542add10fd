// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package locking

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/tejzpr/palmem/internal/database"
	"gorm.io/gorm"
)

// DefaultLeaseTTL is the default time-to-live for leases
const DefaultLeaseTTL = 2 * time.Minute

// Option configures a Locker
type Option func(*Locker)

// WithTTL sets a custom TTL for leases
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(l *Locker) {
		if now != nil {
			l.now = func() time.Time { return now().UTC() }
		}
	}
}

// Locker manages streamer leases with optimistic versioning
type Locker struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewLocker creates a new locker instance
func NewLocker(db *gorm.DB, opts ...Option) *Locker {
	l := &Locker{
		db:  db,
		ttl: DefaultLeaseTTL,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TTL returns the lease time-to-live
func (l *Locker) TTL() time.Duration {
	return l.ttl
}

// Acquire attempts to take the lease of streamer for holder. It returns
// false if another holder owns an unexpired lease. Reacquiring an owned
// lease refreshes it.
func (l *Locker) Acquire(ctx context.Context, streamer, holder string) (bool, error) {
	now := l.now()
	expiresAt := now.Add(l.ttl)
	db := l.db.WithContext(ctx)

	var existing database.StreamerLease
	err := db.Where("streamer = ?", streamer).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		lease := database.StreamerLease{
			Streamer:  streamer,
			Version:   1,
			Holder:    holder,
			LockedAt:  now,
			ExpiresAt: expiresAt,
		}
		if err := db.Create(&lease).Error; err != nil {
			// lost the race against another creator
			return l.heldBy(ctx, streamer, holder)
		}
		return true, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "failed to read lease", goerr.V("streamer", streamer))
	}

	if !IsExpired(&existing, now) && existing.Holder != holder {
		return false, nil
	}

	result := db.Model(&database.StreamerLease{}).
		Where("streamer = ? AND version = ?", streamer, existing.Version).
		Updates(map[string]interface{}{
			"holder":     holder,
			"locked_at":  now,
			"expires_at": expiresAt,
			"version":    existing.Version + 1,
		})
	if result.Error != nil {
		return false, goerr.Wrap(result.Error, "failed to take over lease", goerr.V("streamer", streamer))
	}
	return result.RowsAffected > 0, nil
}

func (l *Locker) heldBy(ctx context.Context, streamer, holder string) (bool, error) {
	current, ok, err := l.Holder(ctx, streamer)
	if err != nil {
		return false, err
	}
	return ok && current == holder, nil
}

// Extend pushes the expiry of a lease owned by holder. It fails with a
// LockError when the lease is gone or was taken over.
func (l *Locker) Extend(ctx context.Context, streamer, holder string) error {
	result := l.db.WithContext(ctx).Model(&database.StreamerLease{}).
		Where("streamer = ? AND holder = ?", streamer, holder).
		Updates(map[string]interface{}{
			"expires_at": l.now().Add(l.ttl),
			"version":    gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return goerr.Wrap(result.Error, "failed to extend lease", goerr.V("streamer", streamer))
	}
	if result.RowsAffected == 0 {
		lockErr := &LockError{Streamer: streamer}
		var current database.StreamerLease
		if err := l.db.WithContext(ctx).Where("streamer = ?", streamer).First(&current).Error; err == nil {
			lockErr.Holder = current.Holder
			lockErr.ExpiresAt = current.ExpiresAt
		}
		return lockErr
	}
	return nil
}

// Release drops the lease of streamer if holder owns it
func (l *Locker) Release(ctx context.Context, streamer, holder string) error {
	err := l.db.WithContext(ctx).
		Where("streamer = ? AND holder = ?", streamer, holder).
		Delete(&database.StreamerLease{}).Error
	if err != nil {
		return goerr.Wrap(err, "failed to release lease", goerr.V("streamer", streamer))
	}
	return nil
}

// ReleaseAll drops every lease owned by holder
func (l *Locker) ReleaseAll(ctx context.Context, holder string) error {
	err := l.db.WithContext(ctx).Where("holder = ?", holder).Delete(&database.StreamerLease{}).Error
	if err != nil {
		return goerr.Wrap(err, "failed to release leases", goerr.V("holder", holder))
	}
	return nil
}

// Holder returns the owner of an unexpired lease on streamer
func (l *Locker) Holder(ctx context.Context, streamer string) (string, bool, error) {
	var lease database.StreamerLease
	err := l.db.WithContext(ctx).Where("streamer = ?", streamer).First(&lease).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, goerr.Wrap(err, "failed to read lease", goerr.V("streamer", streamer))
	}
	if IsExpired(&lease, l.now()) {
		return "", false, nil
	}
	return lease.Holder, true, nil
}

// CleanupExpired removes all expired leases
func (l *Locker) CleanupExpired(ctx context.Context) (int64, error) {
	result := l.db.WithContext(ctx).Where("expires_at <= ?", l.now()).Delete(&database.StreamerLease{})
	if result.Error != nil {
		return 0, goerr.Wrap(result.Error, "failed to clean up leases")
	}
	return result.RowsAffected, nil
}

// WithLease runs fn while holding the lease of streamer and releases it
// afterwards
func (l *Locker) WithLease(ctx context.Context, streamer, holder string, fn func() error) error {
	acquired, err := l.Acquire(ctx, streamer, holder)
	if err != nil {
		return err
	}
	if !acquired {
		lockErr := &LockError{Streamer: streamer}
		lockErr.Holder, _, _ = l.Holder(ctx, streamer)
		return lockErr
	}
	defer l.Release(ctx, streamer, holder) //nolint:errcheck

	return fn()
}
