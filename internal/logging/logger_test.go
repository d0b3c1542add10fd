// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesMessages(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New("info", buf)
	require.NotNil(t, logger)

	logger.Info("memory stored", "id", 42)
	assert.Contains(t, buf.String(), "memory stored")
}

func TestNew_RespectsLevel(t *testing.T) {
	tests := []struct {
		level       string
		expectDebug bool
		expectWarn  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, true},
		{"error", false, false},
		{"DEBUG", true, true},
		{"bogus", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := New(tt.level, buf)

			logger.Debug("debug message")
			logger.Warn("warn message")

			out := buf.String()
			if tt.expectDebug {
				assert.Contains(t, out, "debug message")
			} else {
				assert.NotContains(t, out, "debug message")
			}
			if tt.expectWarn {
				assert.Contains(t, out, "warn message")
			} else {
				assert.NotContains(t, out, "warn message")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
}

func TestContextLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New("info", buf)

	ctx := With(context.Background(), logger)
	assert.Same(t, logger, From(ctx))
	assert.Same(t, Default(), From(context.Background()))
}

func TestSetDefault(t *testing.T) {
	original := Default()
	t.Cleanup(func() { SetDefault(original) })

	replacement := Discard()
	SetDefault(replacement)
	assert.Same(t, replacement, Default())
}
