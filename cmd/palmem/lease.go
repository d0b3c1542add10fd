// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/tejzpr/palmem/internal/locking"
	"gorm.io/gorm"
)

// leaseRenewSchedule keeps leases well inside locking.DefaultLeaseTTL
const leaseRenewSchedule = "@every 30s"

// leaseKeeper holds the streamer leases of one run
type leaseKeeper struct {
	locker *locking.Locker
	holder string
	logger *slog.Logger

	mu   sync.Mutex
	held map[string]struct{}

	// onLost is called for every lease Renew could not extend
	onLost func(streamer string)
}

func newLeaseKeeper(db *gorm.DB, logger *slog.Logger, opts ...locking.Option) *leaseKeeper {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return &leaseKeeper{
		locker: locking.NewLocker(db, opts...),
		holder: fmt.Sprintf("%s/%d/%s", host, os.Getpid(), uuid.NewString()[:8]),
		logger: logger,
		held:   make(map[string]struct{}),
	}
}

// Claim makes sure this run owns the lease of streamer
func (k *leaseKeeper) Claim(ctx context.Context, streamer string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.held[streamer]; ok {
		return nil
	}

	acquired, err := k.locker.Acquire(ctx, streamer, k.holder)
	if err != nil {
		return err
	}
	if !acquired {
		lockErr := &locking.LockError{Streamer: streamer}
		lockErr.Holder, _, _ = k.locker.Holder(ctx, streamer)
		return goerr.Wrap(lockErr, "streamer is served by another process")
	}

	k.held[streamer] = struct{}{}
	k.logger.Debug("lease acquired", "streamer", streamer, "holder", k.holder)
	return nil
}

// Renew extends every held lease. Leases that could not be extended are
// forgotten and reported to onLost, so the next event for that streamer has
// to claim it again.
func (k *leaseKeeper) Renew(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var errs []error
	for streamer := range k.held {
		if err := k.locker.Extend(ctx, streamer, k.holder); err != nil {
			delete(k.held, streamer)
			errs = append(errs, err)
			k.logger.Warn("lease lost", "streamer", streamer, "error", err)
			if k.onLost != nil {
				k.onLost(streamer)
			}
		}
	}
	return errors.Join(errs...)
}

// ReleaseAll gives up every lease of this run
func (k *leaseKeeper) ReleaseAll(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.held = make(map[string]struct{})
	return k.locker.ReleaseAll(ctx, k.holder)
}
