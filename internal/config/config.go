// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultConfigDir is the default configuration directory
	DefaultConfigDir = ".palmem/configs"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.json"
	// EnvPrefix prefixes environment overrides, e.g. PALMEM_DATABASE_TYPE
	EnvPrefix = "PALMEM"
	// MaxInteractionHistoryLimit is the hard bound of a profile's interaction history
	MaxInteractionHistoryLimit = 50

	defaultSQLitePath = ".palmem/db/palmem.db"
)

// Load reads configuration from ~/.palmem/configs/config.json. A missing
// file yields the defaults; environment overrides apply in both cases.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(homeDir, DefaultConfigDir))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific path
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("streamer", d.Streamer)

	// Database defaults
	v.SetDefault("database.type", d.Database.Type)
	v.SetDefault("database.sqlite_path", d.Database.SQLitePath)
	v.SetDefault("database.postgres_dsn", d.Database.PostgresDSN)
	v.SetDefault("database.log_level", d.Database.LogLevel)

	v.SetDefault("logging.level", d.Logging.Level)

	// Embedding defaults
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.vocabulary_capacity", d.Embedding.VocabularyCapacity)
	v.SetDefault("embedding.min_token_length", d.Embedding.MinTokenLength)
	v.SetDefault("embedding.spread", d.Embedding.Spread)
	v.SetDefault("embedding.spread_stride", d.Embedding.SpreadStride)

	// Gate defaults
	v.SetDefault("gate.cooldown_ms", d.Gate.CooldownMs)
	v.SetDefault("gate.speak_threshold", d.Gate.SpeakThreshold)
	v.SetDefault("gate.max_responses_per_minute", d.Gate.MaxResponsesPerMinute)
	v.SetDefault("gate.rate_window_ms", d.Gate.RateWindowMs)
	v.SetDefault("gate.supporter_gift_threshold", d.Gate.SupporterGiftThreshold)

	// Context defaults
	v.SetDefault("context.max_items", d.Context.MaxItems)
	v.SetDefault("context.similar_limit", d.Context.SimilarLimit)
	v.SetDefault("context.similarity_floor", d.Context.SimilarityFloor)
	v.SetDefault("context.user_limit", d.Context.UserLimit)
	v.SetDefault("context.important_limit", d.Context.ImportantLimit)
	v.SetDefault("context.important_threshold", d.Context.ImportantThreshold)
	v.SetDefault("context.history_limit", d.Context.HistoryLimit)

	// Retention defaults
	v.SetDefault("retention.memory_days", d.Retention.MemoryDays)
	v.SetDefault("retention.prune_max_importance", d.Retention.PruneMaxImportance)
	v.SetDefault("retention.conversation_days", d.Retention.ConversationDays)
	v.SetDefault("retention.archive_after_days", d.Retention.ArchiveAfterDays)
	v.SetDefault("retention.cluster_similarity", d.Retention.ClusterSimilarity)
	v.SetDefault("retention.min_cluster_size", d.Retention.MinClusterSize)
	v.SetDefault("retention.interaction_history_limit", d.Retention.InteractionHistoryLimit)
	v.SetDefault("retention.schedule", d.Retention.Schedule)

	// Generation defaults
	v.SetDefault("generation.provider", d.Generation.Provider)
	v.SetDefault("generation.model", d.Generation.Model)
	v.SetDefault("generation.api_key_env", d.Generation.APIKeyEnv)
	v.SetDefault("generation.max_tokens", d.Generation.MaxTokens)
	v.SetDefault("generation.timeout_seconds", d.Generation.TimeoutSeconds)
	v.SetDefault("generation.cache_size", d.Generation.CacheSize)
	v.SetDefault("generation.cache_ttl_seconds", d.Generation.CacheTTLSeconds)

	v.SetDefault("personality.file", d.Personality.File)
	v.SetDefault("personality.system_prompt", d.Personality.SystemPrompt)
	v.SetDefault("personality.persona_name", d.Personality.PersonaName)
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Streamer) == "" {
		return fmt.Errorf("streamer must not be empty")
	}

	// Validate database type
	if cfg.Database.Type != "sqlite" && cfg.Database.Type != "postgres" {
		return fmt.Errorf("database.type must be 'sqlite' or 'postgres', got '%s'", cfg.Database.Type)
	}

	// Validate database connection info
	if cfg.Database.Type == "sqlite" && cfg.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path is required when type is 'sqlite'")
	}
	if cfg.Database.Type == "postgres" && cfg.Database.PostgresDSN == "" {
		return fmt.Errorf("database.postgres_dsn is required when type is 'postgres'")
	}

	// Validate embedding parameters
	if cfg.Embedding.Dimensions < 8 {
		return fmt.Errorf("embedding.dimensions must be at least 8, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Embedding.VocabularyCapacity < 1 {
		return fmt.Errorf("embedding.vocabulary_capacity must be at least 1, got %d", cfg.Embedding.VocabularyCapacity)
	}
	if cfg.Embedding.MinTokenLength < 1 {
		return fmt.Errorf("embedding.min_token_length must be at least 1, got %d", cfg.Embedding.MinTokenLength)
	}
	if cfg.Embedding.Spread < 1 || cfg.Embedding.SpreadStride < 1 {
		return fmt.Errorf("embedding.spread and embedding.spread_stride must be at least 1")
	}

	// Validate gate settings
	if cfg.Gate.CooldownMs < 0 {
		return fmt.Errorf("gate.cooldown_ms must not be negative, got %d", cfg.Gate.CooldownMs)
	}
	if cfg.Gate.MaxResponsesPerMinute < 1 {
		return fmt.Errorf("gate.max_responses_per_minute must be at least 1, got %d", cfg.Gate.MaxResponsesPerMinute)
	}
	if cfg.Gate.RateWindowMs < 1 {
		return fmt.Errorf("gate.rate_window_ms must be at least 1, got %d", cfg.Gate.RateWindowMs)
	}

	fractions := map[string]float64{
		"gate.speak_threshold":           cfg.Gate.SpeakThreshold,
		"context.similarity_floor":       cfg.Context.SimilarityFloor,
		"context.important_threshold":    cfg.Context.ImportantThreshold,
		"retention.prune_max_importance": cfg.Retention.PruneMaxImportance,
		"retention.cluster_similarity":   cfg.Retention.ClusterSimilarity,
	}
	for key, value := range fractions {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", key, value)
		}
	}

	limits := map[string]int{
		"context.max_items":                   cfg.Context.MaxItems,
		"context.similar_limit":               cfg.Context.SimilarLimit,
		"context.user_limit":                  cfg.Context.UserLimit,
		"context.important_limit":             cfg.Context.ImportantLimit,
		"context.history_limit":               cfg.Context.HistoryLimit,
		"retention.memory_days":               cfg.Retention.MemoryDays,
		"retention.conversation_days":         cfg.Retention.ConversationDays,
		"retention.archive_after_days":        cfg.Retention.ArchiveAfterDays,
		"retention.interaction_history_limit": cfg.Retention.InteractionHistoryLimit,
		"retention.min_cluster_size":          cfg.Retention.MinClusterSize,
	}
	for key, value := range limits {
		if value < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", key, value)
		}
	}
	if cfg.Retention.InteractionHistoryLimit > MaxInteractionHistoryLimit {
		return fmt.Errorf("retention.interaction_history_limit must be at most %d, got %d",
			MaxInteractionHistoryLimit, cfg.Retention.InteractionHistoryLimit)
	}

	// Validate generation settings
	if !IsValidGenerationProvider(cfg.Generation.Provider) {
		return fmt.Errorf("generation.provider must be one of %v, got '%s'", ValidGenerationProviders(), cfg.Generation.Provider)
	}
	if cfg.Generation.Provider == GenerationProviderAnthropic && cfg.Generation.APIKeyEnv == "" {
		return fmt.Errorf("generation.api_key_env is required when provider is '%s'", GenerationProviderAnthropic)
	}
	if cfg.Generation.CacheSize < 0 {
		return fmt.Errorf("generation.cache_size must not be negative, got %d", cfg.Generation.CacheSize)
	}

	return nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist
func EnsureConfigDir() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, DefaultConfigDir)
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Streamer: "default",
		Database: DatabaseConfig{
			Type:       "sqlite",
			SQLitePath: filepath.Join(homeDir, defaultSQLitePath),
			LogLevel:   "silent",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Embedding: EmbeddingConfig{
			Dimensions:         256,
			VocabularyCapacity: 10000,
			MinTokenLength:     3,
			Spread:             4,
			SpreadStride:       64,
		},
		Gate: GateConfig{
			CooldownMs:             3000,
			SpeakThreshold:         0.5,
			MaxResponsesPerMinute:  10,
			RateWindowMs:           60000,
			SupporterGiftThreshold: 100,
		},
		Context: ContextConfig{
			MaxItems:           10,
			SimilarLimit:       5,
			SimilarityFloor:    0.2,
			UserLimit:          5,
			ImportantLimit:     3,
			ImportantThreshold: 0.7,
			HistoryLimit:       10,
		},
		Retention: RetentionConfig{
			MemoryDays:              30,
			PruneMaxImportance:      0.3,
			ConversationDays:        7,
			ArchiveAfterDays:        7,
			ClusterSimilarity:       0.5,
			MinClusterSize:          2,
			InteractionHistoryLimit: MaxInteractionHistoryLimit,
			Schedule:                "@every 1h",
		},
		Generation: GenerationConfig{
			Provider:        GenerationProviderNone,
			Model:           "claude-3-5-haiku-latest",
			APIKeyEnv:       "ANTHROPIC_API_KEY",
			MaxTokens:       150,
			TimeoutSeconds:  20,
			CacheSize:       1000,
			CacheTTLSeconds: 300,
		},
		Personality: PersonalityConfig{
			PersonaName: "Pal",
		},
	}
}
