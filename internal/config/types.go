// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import "slices"

// Config represents the complete application configuration
type Config struct {
	Streamer    string            `mapstructure:"streamer"` // Default tenant scope
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Gate        GateConfig        `mapstructure:"gate"`
	Context     ContextConfig     `mapstructure:"context"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	Generation  GenerationConfig  `mapstructure:"generation"`
	Personality PersonalityConfig `mapstructure:"personality"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Type        string `mapstructure:"type"` // "sqlite" or "postgres"
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	LogLevel    string `mapstructure:"log_level"` // gorm logger level
}

// LoggingConfig holds application log settings
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// EmbeddingConfig holds the hashed TF-IDF embedding parameters
type EmbeddingConfig struct {
	Dimensions         int `mapstructure:"dimensions"`
	VocabularyCapacity int `mapstructure:"vocabulary_capacity"`
	MinTokenLength     int `mapstructure:"min_token_length"`
	Spread             int `mapstructure:"spread"`
	SpreadStride       int `mapstructure:"spread_stride"`
}

// GateConfig holds the response gate thresholds
type GateConfig struct {
	CooldownMs             int     `mapstructure:"cooldown_ms"`
	SpeakThreshold         float64 `mapstructure:"speak_threshold"`
	MaxResponsesPerMinute  int     `mapstructure:"max_responses_per_minute"`
	RateWindowMs           int     `mapstructure:"rate_window_ms"`
	SupporterGiftThreshold float64 `mapstructure:"supporter_gift_threshold"`
}

// ContextConfig bounds the context handed to the generator
type ContextConfig struct {
	MaxItems           int     `mapstructure:"max_items"`
	SimilarLimit       int     `mapstructure:"similar_limit"`
	SimilarityFloor    float64 `mapstructure:"similarity_floor"`
	UserLimit          int     `mapstructure:"user_limit"`
	ImportantLimit     int     `mapstructure:"important_limit"`
	ImportantThreshold float64 `mapstructure:"important_threshold"`
	HistoryLimit       int     `mapstructure:"history_limit"`
}

// RetentionConfig holds pruning, purging and consolidation settings
type RetentionConfig struct {
	MemoryDays              int     `mapstructure:"memory_days"`
	PruneMaxImportance      float64 `mapstructure:"prune_max_importance"`
	ConversationDays        int     `mapstructure:"conversation_days"`
	ArchiveAfterDays        int     `mapstructure:"archive_after_days"`
	ClusterSimilarity       float64 `mapstructure:"cluster_similarity"`
	MinClusterSize          int     `mapstructure:"min_cluster_size"` // smallest cluster that becomes an archive
	InteractionHistoryLimit int     `mapstructure:"interaction_history_limit"`
	Schedule                string  `mapstructure:"schedule"` // cron spec of the maintenance job
}

// GenerationConfig selects and tunes the text generator
type GenerationConfig struct {
	Provider        string `mapstructure:"provider"` // "none" or "anthropic"
	Model           string `mapstructure:"model"`
	APIKeyEnv       string `mapstructure:"api_key_env"` // Environment variable name for API key
	MaxTokens       int    `mapstructure:"max_tokens"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	CacheSize       int    `mapstructure:"cache_size"` // 0 disables the response cache
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
}

// PersonalityConfig seeds the shared personality table
type PersonalityConfig struct {
	File         string `mapstructure:"file"` // YAML file imported on startup
	SystemPrompt string `mapstructure:"system_prompt"`
	PersonaName  string `mapstructure:"persona_name"`
}

// Generation providers
const (
	GenerationProviderNone      = "none"
	GenerationProviderAnthropic = "anthropic"
)

// ValidGenerationProviders returns all valid generation provider values
func ValidGenerationProviders() []string {
	return []string{
		GenerationProviderNone,
		GenerationProviderAnthropic,
	}
}

// IsValidGenerationProvider checks if a provider is valid
func IsValidGenerationProvider(provider string) bool {
	return slices.Contains(ValidGenerationProviders(), provider)
}
