// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/palmem/internal/database"
	"github.com/tejzpr/palmem/internal/logging"
)

func TestSettings_SetGet(t *testing.T) {
	ctx := context.Background()
	settings := NewSettings(openTestDB(t), logging.Discard())

	_, ok := settings.Get(ctx, database.SettingPersonaName)
	assert.False(t, ok)

	require.NoError(t, settings.Set(ctx, database.SettingPersonaName, "Pal"))
	require.NoError(t, settings.Set(ctx, database.SettingPersonaName, "Pali"))

	v, ok := settings.Get(ctx, database.SettingPersonaName)
	require.True(t, ok)
	assert.Equal(t, "Pali", v)
	assert.Len(t, settings.All(ctx), 1)

	assert.ErrorIs(t, settings.Set(ctx, "", "x"), ErrInvalidRecord)
}

func TestSettings_ImportYAML(t *testing.T) {
	ctx := context.Background()
	settings := NewSettings(openTestDB(t), logging.Discard())

	doc := `
persona_name: Pal
system_prompt: |
  Du bist Pal, ein freundlicher Co-Host.
`
	n, err := settings.ImportYAML(ctx, strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	prompt, ok := settings.Get(ctx, database.SettingSystemPrompt)
	require.True(t, ok)
	assert.Equal(t, "Du bist Pal, ein freundlicher Co-Host.\n", prompt)

	_, err = settings.ImportYAML(ctx, strings.NewReader("- not\n- a map\n"))
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestSettings_ImportFile(t *testing.T) {
	ctx := context.Background()
	settings := NewSettings(openTestDB(t), logging.Discard())

	path := filepath.Join(t.TempDir(), "personality.yaml")
	require.NoError(t, os.WriteFile(path, []byte("persona_name: Pal\n"), 0600))

	n, err := settings.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = settings.ImportFile(ctx, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
