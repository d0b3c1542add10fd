// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)

	// Ensure config directory exists
	err := EnsureConfigDir()
	require.NoError(t, err)

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// Check defaults
	assert.Equal(t, "default", cfg.Streamer)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, filepath.Join(tempDir, ".palmem/db/palmem.db"), cfg.Database.SQLitePath)
	assert.Equal(t, 256, cfg.Embedding.Dimensions)
	assert.Equal(t, 3000, cfg.Gate.CooldownMs)
	assert.Equal(t, 0.5, cfg.Gate.SpeakThreshold)
	assert.Equal(t, 10, cfg.Gate.MaxResponsesPerMinute)
	assert.Equal(t, 10, cfg.Context.MaxItems)
	assert.Equal(t, 0.2, cfg.Context.SimilarityFloor)
	assert.Equal(t, 30, cfg.Retention.MemoryDays)
	assert.Equal(t, 0.3, cfg.Retention.PruneMaxImportance)
	assert.Equal(t, 50, cfg.Retention.InteractionHistoryLimit)
	assert.Equal(t, 2, cfg.Retention.MinClusterSize)
	assert.Equal(t, GenerationProviderNone, cfg.Generation.Provider)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PALMEM_STREAMER", "anna")
	t.Setenv("PALMEM_GATE_COOLDOWN_MS", "500")
	t.Setenv("PALMEM_DATABASE_TYPE", "postgres")
	t.Setenv("PALMEM_DATABASE_POSTGRES_DSN", "host=localhost dbname=palmem")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "anna", cfg.Streamer)
	assert.Equal(t, 500, cfg.Gate.CooldownMs)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "host=localhost dbname=palmem", cfg.Database.PostgresDSN)
}

func TestLoadFromPath(t *testing.T) {
	tests := []struct {
		name        string
		configJSON  string
		expectError bool
		validate    func(*testing.T, *Config)
	}{
		{
			name: "valid sqlite config",
			configJSON: `{
				"streamer": "anna",
				"database": {
					"type": "sqlite",
					"sqlite_path": "/tmp/test.db"
				},
				"gate": {
					"cooldown_ms": 1000,
					"speak_threshold": 0.6
				}
			}`,
			expectError: false,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "anna", cfg.Streamer)
				assert.Equal(t, "/tmp/test.db", cfg.Database.SQLitePath)
				assert.Equal(t, 1000, cfg.Gate.CooldownMs)
				assert.Equal(t, 0.6, cfg.Gate.SpeakThreshold)
				// untouched keys keep their defaults
				assert.Equal(t, 10, cfg.Gate.MaxResponsesPerMinute)
				assert.Equal(t, "@every 1h", cfg.Retention.Schedule)
			},
		},
		{
			name: "valid postgres config",
			configJSON: `{
				"database": {
					"type": "postgres",
					"postgres_dsn": "host=localhost user=test dbname=test"
				}
			}`,
			expectError: false,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "postgres", cfg.Database.Type)
				assert.Equal(t, "host=localhost user=test dbname=test", cfg.Database.PostgresDSN)
			},
		},
		{
			name: "anthropic generation",
			configJSON: `{
				"generation": {
					"provider": "anthropic",
					"model": "claude-test",
					"cache_size": 0
				}
			}`,
			expectError: false,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, GenerationProviderAnthropic, cfg.Generation.Provider)
				assert.Equal(t, "claude-test", cfg.Generation.Model)
				assert.Equal(t, "ANTHROPIC_API_KEY", cfg.Generation.APIKeyEnv)
				assert.Zero(t, cfg.Generation.CacheSize)
			},
		},
		{
			name: "invalid database type",
			configJSON: `{
				"database": {
					"type": "mongodb"
				}
			}`,
			expectError: true,
		},
		{
			name:        "malformed json",
			configJSON:  `{"database": `,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "config.json")
			err := os.WriteFile(configPath, []byte(tt.configJSON), 0644)
			require.NoError(t, err)

			cfg, err := LoadFromPath(configPath)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestLoadFromPath_MissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:     "empty streamer",
			mutate:   func(c *Config) { c.Streamer = " " },
			errorMsg: "streamer must not be empty",
		},
		{
			name:     "invalid database type",
			mutate:   func(c *Config) { c.Database.Type = "mongodb" },
			errorMsg: "database.type must be 'sqlite' or 'postgres'",
		},
		{
			name:     "sqlite without path",
			mutate:   func(c *Config) { c.Database.SQLitePath = "" },
			errorMsg: "database.sqlite_path is required",
		},
		{
			name:     "postgres without dsn",
			mutate:   func(c *Config) { c.Database.Type = "postgres" },
			errorMsg: "database.postgres_dsn is required",
		},
		{
			name:     "tiny dimensions",
			mutate:   func(c *Config) { c.Embedding.Dimensions = 4 },
			errorMsg: "embedding.dimensions must be at least 8",
		},
		{
			name:     "speak threshold above one",
			mutate:   func(c *Config) { c.Gate.SpeakThreshold = 1.5 },
			errorMsg: "gate.speak_threshold must be between 0 and 1",
		},
		{
			name:     "negative cooldown",
			mutate:   func(c *Config) { c.Gate.CooldownMs = -1 },
			errorMsg: "gate.cooldown_ms must not be negative",
		},
		{
			name:     "zero rate limit",
			mutate:   func(c *Config) { c.Gate.MaxResponsesPerMinute = 0 },
			errorMsg: "gate.max_responses_per_minute must be at least 1",
		},
		{
			name:     "zero max items",
			mutate:   func(c *Config) { c.Context.MaxItems = 0 },
			errorMsg: "context.max_items must be at least 1",
		},
		{
			name:     "zero history bound",
			mutate:   func(c *Config) { c.Retention.InteractionHistoryLimit = 0 },
			errorMsg: "retention.interaction_history_limit must be at least 1",
		},
		{
			name:     "history bound above 50",
			mutate:   func(c *Config) { c.Retention.InteractionHistoryLimit = 51 },
			errorMsg: "retention.interaction_history_limit must be at most 50",
		},
		{
			name:     "unknown provider",
			mutate:   func(c *Config) { c.Generation.Provider = "openai" },
			errorMsg: "generation.provider must be one of",
		},
		{
			name: "anthropic without key env",
			mutate: func(c *Config) {
				c.Generation.Provider = GenerationProviderAnthropic
				c.Generation.APIKeyEnv = ""
			},
			errorMsg: "generation.api_key_env is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := validate(cfg)
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestEnsureConfigDir(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)

	err := EnsureConfigDir()
	require.NoError(t, err)

	configPath := filepath.Join(tempDir, DefaultConfigDir)
	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestIsValidGenerationProvider(t *testing.T) {
	assert.True(t, IsValidGenerationProvider("none"))
	assert.True(t, IsValidGenerationProvider("anthropic"))
	assert.False(t, IsValidGenerationProvider("openai"))
	assert.False(t, IsValidGenerationProvider(""))
}
