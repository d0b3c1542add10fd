// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/palmem/internal/logging"
	"github.com/tejzpr/palmem/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db := openTestDB(t)
	settings := store.NewSettings(db, logging.Discard())
	factory := NewFactory(db, settings, DefaultConfig(),
		[]store.Option{store.WithLogger(logging.Discard())},
		WithLogger(logging.Discard()),
	)
	return NewRegistry(factory)
}

func TestRegistry_GetCachesPerStreamer(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	anna, err := reg.Get(ctx, "anna")
	require.NoError(t, err)
	again, err := reg.Get(ctx, " anna ")
	require.NoError(t, err)
	assert.Same(t, anna, again)

	ben, err := reg.Get(ctx, "ben")
	require.NoError(t, err)
	assert.NotSame(t, anna, ben)
	assert.Equal(t, []string{"anna", "ben"}, reg.Streamers())

	_, err = reg.Get(ctx, "")
	assert.ErrorIs(t, err, store.ErrInvalidRecord)
}

func TestRegistry_StreamersAreIsolated(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	anna, err := reg.Get(ctx, "anna")
	require.NoError(t, err)
	ben, err := reg.Get(ctx, "ben")
	require.NoError(t, err)

	_, err = anna.Ingest(ctx, chat("lena", "gitarre spielen"))
	require.NoError(t, err)

	assert.NotEmpty(t, anna.FindSimilar("gitarre", 5, 0.1))
	assert.Empty(t, ben.FindSimilar("gitarre", 5, 0.1))
	assert.Zero(t, ben.Store().CountMemories(ctx))
}

func TestRegistry_MaintainAndShutdown(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	e, err := reg.Get(ctx, "anna")
	require.NoError(t, err)
	require.NoError(t, reg.MaintainAll(ctx))

	require.NoError(t, reg.Shutdown(ctx))
	assert.Empty(t, reg.Streamers())

	_, err = e.Ingest(ctx, chat("lena", "hallo"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRegistry_EvictRebuildsFromStore(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	anna, err := reg.Get(ctx, "anna")
	require.NoError(t, err)

	// a second process writes to the same streamer
	other, err := New(ctx, anna.Store(), nil, DefaultConfig(), WithLogger(logging.Discard()))
	require.NoError(t, err)
	out, err := other.Ingest(ctx, chat("lena", "gitarre spielen"))
	require.NoError(t, err)
	assert.False(t, anna.Index().Has(out.MemoryID))

	assert.True(t, reg.Evict("anna"))
	assert.False(t, reg.Evict("anna"))
	assert.Empty(t, reg.Streamers())

	_, err = anna.Ingest(ctx, chat("lena", "hallo"))
	assert.ErrorIs(t, err, ErrClosed)

	fresh, err := reg.Get(ctx, "anna")
	require.NoError(t, err)
	assert.NotSame(t, anna, fresh)
	assert.True(t, fresh.Index().Has(out.MemoryID))
	assert.Equal(t, int64(1), fresh.Store().CountMemories(ctx))
}
