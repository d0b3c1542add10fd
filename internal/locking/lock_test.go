// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package locking

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/palmem/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.Connect(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, database.Setup(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func newTestLocker(t *testing.T) (*Locker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewLocker(setupTestDB(t), WithTTL(time.Minute), WithClock(clock.Now)), clock
}

func TestLocker_Acquire_Success(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	acquired, err := locker.Acquire(ctx, "anna", "proc-1")
	require.NoError(t, err)
	assert.True(t, acquired)

	holder, ok, err := locker.Holder(ctx, "anna")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "proc-1", holder)
}

func TestLocker_Acquire_AlreadyHeld(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	acquired, err := locker.Acquire(ctx, "anna", "proc-1")
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = locker.Acquire(ctx, "anna", "proc-2")
	require.NoError(t, err)
	assert.False(t, acquired)

	// other streamers are independent
	acquired, err = locker.Acquire(ctx, "bob", "proc-2")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestLocker_Acquire_SameHolder(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	acquired, err := locker.Acquire(ctx, "anna", "proc-1")
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = locker.Acquire(ctx, "anna", "proc-1")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestLocker_Acquire_Expired(t *testing.T) {
	locker, clock := newTestLocker(t)
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "anna", "proc-1")
	require.NoError(t, err)

	clock.Advance(61 * time.Second)

	acquired, err := locker.Acquire(ctx, "anna", "proc-2")
	require.NoError(t, err)
	assert.True(t, acquired)

	holder, ok, err := locker.Holder(ctx, "anna")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "proc-2", holder)
}

func TestLocker_Release(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	_, _ = locker.Acquire(ctx, "anna", "proc-1")

	// releasing someone else's lease is a no-op
	require.NoError(t, locker.Release(ctx, "anna", "proc-2"))
	_, ok, _ := locker.Holder(ctx, "anna")
	assert.True(t, ok)

	require.NoError(t, locker.Release(ctx, "anna", "proc-1"))
	_, ok, _ = locker.Holder(ctx, "anna")
	assert.False(t, ok)
}

func TestLocker_Extend(t *testing.T) {
	locker, clock := newTestLocker(t)
	ctx := context.Background()

	_, _ = locker.Acquire(ctx, "anna", "proc-1")

	clock.Advance(50 * time.Second)
	require.NoError(t, locker.Extend(ctx, "anna", "proc-1"))

	// past the original expiry
	clock.Advance(30 * time.Second)
	holder, ok, _ := locker.Holder(ctx, "anna")
	assert.True(t, ok)
	assert.Equal(t, "proc-1", holder)
}

func TestLocker_Extend_AfterTakeover(t *testing.T) {
	locker, clock := newTestLocker(t)
	ctx := context.Background()

	_, _ = locker.Acquire(ctx, "anna", "proc-1")
	clock.Advance(2 * time.Minute)
	acquired, err := locker.Acquire(ctx, "anna", "proc-2")
	require.NoError(t, err)
	require.True(t, acquired)

	err = locker.Extend(ctx, "anna", "proc-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLeaseHeld))

	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, "proc-2", lockErr.Holder)
}

func TestLocker_WithLease(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	executed := false
	err := locker.WithLease(ctx, "anna", "proc-1", func() error {
		executed = true
		holder, ok, _ := locker.Holder(ctx, "anna")
		assert.True(t, ok)
		assert.Equal(t, "proc-1", holder)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, executed)

	_, ok, _ := locker.Holder(ctx, "anna")
	assert.False(t, ok)
}

func TestLocker_WithLease_Held(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	_, _ = locker.Acquire(ctx, "anna", "proc-1")

	err := locker.WithLease(ctx, "anna", "proc-2", func() error {
		t.Fatal("must not run without the lease")
		return nil
	})
	assert.ErrorIs(t, err, ErrLeaseHeld)
}

func TestLocker_CleanupExpired(t *testing.T) {
	locker, clock := newTestLocker(t)
	ctx := context.Background()

	_, _ = locker.Acquire(ctx, "s1", "proc-1")
	_, _ = locker.Acquire(ctx, "s2", "proc-1")
	clock.Advance(2 * time.Minute)
	_, _ = locker.Acquire(ctx, "s3", "proc-1")

	count, err := locker.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestLocker_ReleaseAll(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	_, _ = locker.Acquire(ctx, "s1", "proc-1")
	_, _ = locker.Acquire(ctx, "s2", "proc-1")
	_, _ = locker.Acquire(ctx, "s3", "proc-2")

	require.NoError(t, locker.ReleaseAll(ctx, "proc-1"))

	_, ok1, _ := locker.Holder(ctx, "s1")
	_, ok2, _ := locker.Holder(ctx, "s2")
	assert.False(t, ok1)
	assert.False(t, ok2)

	holder, ok3, _ := locker.Holder(ctx, "s3")
	assert.True(t, ok3)
	assert.Equal(t, "proc-2", holder)
}

func TestConcurrentAcquire(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	const numHolders = 10
	results := make([]bool, numHolders)
	var wg sync.WaitGroup

	for i := 0; i < numHolders; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			acquired, _ := locker.Acquire(ctx, "contested", fmt.Sprintf("proc-%d", idx))
			results[idx] = acquired
		}(i)
	}
	wg.Wait()

	successCount := 0
	for _, r := range results {
		if r {
			successCount++
		}
	}
	assert.Equal(t, 1, successCount)
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lease := database.StreamerLease{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, IsExpired(&lease, now))

	lease.ExpiresAt = now.Add(-time.Hour)
	assert.True(t, IsExpired(&lease, now))

	lease.ExpiresAt = now
	assert.True(t, IsExpired(&lease, now))
}

func TestLockError_Message(t *testing.T) {
	err := &LockError{Streamer: "anna", Holder: "proc-1", ExpiresAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	assert.Contains(t, err.Error(), "proc-1")
	assert.Contains(t, err.Error(), "2026-03-01T12:00:00Z")
	assert.Contains(t, (&LockError{Streamer: "anna"}).Error(), "not held")
}
