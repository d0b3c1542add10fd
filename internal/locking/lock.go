// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package locking hands out per-streamer leases so that only one process
// ingests events for a streamer at a time. Gate state and the similarity
// index live in process memory, so two writers would diverge.
package locking

import (
	"errors"
	"fmt"
	"time"

	"github.com/tejzpr/palmem/internal/database"
)

// ErrLeaseHeld is matched by every LockError
var ErrLeaseHeld = errors.New("streamer lease is held by another process")

// LockError reports a lease owned by someone else
type LockError struct {
	Streamer  string
	Holder    string
	ExpiresAt time.Time
}

func (e *LockError) Error() string {
	if e.Holder == "" {
		return fmt.Sprintf("lease for streamer %q is not held", e.Streamer)
	}
	return fmt.Sprintf("lease for streamer %q is held by %s until %s",
		e.Streamer, e.Holder, e.ExpiresAt.Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrLeaseHeld) true
func (e *LockError) Is(target error) bool {
	return target == ErrLeaseHeld
}

// IsExpired reports whether lease may be taken over at now
func IsExpired(lease *database.StreamerLease, now time.Time) bool {
	return !now.Before(lease.ExpiresAt)
}
