// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/tejzpr/palmem/internal/config"
	"github.com/tejzpr/palmem/internal/database"
	"github.com/tejzpr/palmem/internal/embeddings"
	"github.com/tejzpr/palmem/internal/engine"
	"github.com/tejzpr/palmem/internal/gate"
	"github.com/tejzpr/palmem/internal/generation"
	"github.com/tejzpr/palmem/internal/logging"
	"github.com/tejzpr/palmem/internal/store"
	"gorm.io/gorm"
)

// app holds everything a command needs once configuration is loaded
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	settings  *store.Settings
	generator generation.Generator
	registry  *engine.Registry
	cache     *generation.Cached
}

// appOptions carries the command-line overrides
type appOptions struct {
	ConfigPath string
	Streamer   string
	LogLevel   string
	Stderr     io.Writer
	Presenter  engine.Presenter
	Generator  generation.Generator
}

// loadConfig loads the config file named by path, or the default one
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// openApp loads configuration, connects the database and prepares the
// engine registry
func openApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load configuration", goerr.V("path", opts.ConfigPath))
	}
	if opts.Streamer != "" {
		cfg.Streamer = opts.Streamer
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := logging.New(cfg.Logging.Level, stderr)
	logging.SetDefault(logger)

	db, err := database.Connect(&database.Config{
		Type:        cfg.Database.Type,
		SQLitePath:  cfg.Database.SQLitePath,
		PostgresDSN: cfg.Database.PostgresDSN,
		LogLevel:    database.ParseLogLevel(cfg.Database.LogLevel),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect to database", goerr.V("type", cfg.Database.Type))
	}
	if err := database.Setup(db); err != nil {
		_ = database.Close(db)
		return nil, goerr.Wrap(err, "failed to migrate database")
	}
	logger.Debug("database ready", "type", cfg.Database.Type)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		settings: store.NewSettings(db, logger),
	}

	if err := a.seedPersonality(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.generator = opts.Generator
	if a.generator == nil {
		if a.generator, err = a.newGenerator(); err != nil {
			a.Close()
			return nil, err
		}
	}

	engineOpts := []engine.Option{engine.WithLogger(logger)}
	if a.generator != nil {
		engineOpts = append(engineOpts, engine.WithGenerator(a.generator))
	}
	if opts.Presenter != nil {
		engineOpts = append(engineOpts, engine.WithPresenter(opts.Presenter))
	}
	storeOpts := []store.Option{
		store.WithLogger(logger),
		store.WithInteractionHistoryLimit(cfg.Retention.InteractionHistoryLimit),
	}
	a.registry = engine.NewRegistry(engine.NewFactory(db, a.settings, engineConfig(cfg), storeOpts, engineOpts...))

	return a, nil
}

// Engine returns the engine of streamer, or of the configured default one
func (a *app) Engine(ctx context.Context, streamer string) (*engine.Engine, error) {
	if streamer == "" {
		streamer = a.cfg.Streamer
	}
	return a.registry.Get(logging.With(ctx, a.logger), streamer)
}

// Close releases the response cache and the database connection. Engines
// must have been shut down before.
func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}

// seedPersonality imports the configured YAML file and fills in the prompt
// settings that are still unset
func (a *app) seedPersonality(ctx context.Context) error {
	p := a.cfg.Personality
	if p.File != "" {
		n, err := a.settings.ImportFile(ctx, p.File)
		if err != nil {
			return goerr.Wrap(err, "failed to import personality", goerr.V("file", p.File))
		}
		a.logger.Debug("personality imported", "file", p.File, "settings", n)
	}

	defaults := map[string]string{
		database.SettingSystemPrompt: p.SystemPrompt,
		database.SettingPersonaName:  p.PersonaName,
	}
	for key, value := range defaults {
		if value == "" {
			continue
		}
		if _, ok := a.settings.Get(ctx, key); ok {
			continue
		}
		if err := a.settings.Set(ctx, key, value); err != nil {
			return goerr.Wrap(err, "failed to seed personality", goerr.V("key", key))
		}
	}
	return nil
}

// newGenerator builds the configured text generator, or nil when replies
// are disabled
func (a *app) newGenerator() (generation.Generator, error) {
	g := a.cfg.Generation
	if g.Provider != config.GenerationProviderAnthropic {
		return nil, nil
	}

	apiKey := os.Getenv(g.APIKeyEnv)
	if apiKey == "" {
		return nil, goerr.New("generation API key is not set", goerr.V("env", g.APIKeyEnv))
	}

	gen, err := generation.NewAnthropic(generation.AnthropicConfig{
		APIKey:    apiKey,
		Model:     g.Model,
		MaxTokens: g.MaxTokens,
		Timeout:   time.Duration(g.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	if g.CacheSize <= 0 {
		return gen, nil
	}

	cached, err := generation.NewCached(gen, int64(g.CacheSize), time.Duration(g.CacheTTLSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	a.cache = cached
	return cached, nil
}

// engineConfig converts the file configuration into engine settings
func engineConfig(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()

	ec.Embedding = embeddings.GeneratorConfig{
		Dimensions:         cfg.Embedding.Dimensions,
		VocabularyCapacity: cfg.Embedding.VocabularyCapacity,
		Spread:             cfg.Embedding.Spread,
		SpreadStride:       cfg.Embedding.SpreadStride,
	}
	ec.MinTokenLength = cfg.Embedding.MinTokenLength

	ec.Gate = gate.Config{
		Cooldown:              time.Duration(cfg.Gate.CooldownMs) * time.Millisecond,
		SpeakThreshold:        cfg.Gate.SpeakThreshold,
		MaxResponsesPerWindow: cfg.Gate.MaxResponsesPerMinute,
		RateWindow:            time.Duration(cfg.Gate.RateWindowMs) * time.Millisecond,
	}
	ec.SupporterThreshold = cfg.Gate.SupporterGiftThreshold

	ec.Context = engine.ContextConfig{
		MaxItems:           cfg.Context.MaxItems,
		SimilarLimit:       cfg.Context.SimilarLimit,
		SimilarityFloor:    cfg.Context.SimilarityFloor,
		UserLimit:          cfg.Context.UserLimit,
		ImportantLimit:     cfg.Context.ImportantLimit,
		ImportantThreshold: cfg.Context.ImportantThreshold,
		HistoryLimit:       cfg.Context.HistoryLimit,
	}
	ec.Retention = engine.RetentionConfig{
		MemoryDays:         cfg.Retention.MemoryDays,
		PruneMaxImportance: cfg.Retention.PruneMaxImportance,
		ConversationDays:   cfg.Retention.ConversationDays,
		ArchiveAfterDays:   cfg.Retention.ArchiveAfterDays,
		ClusterSimilarity:  cfg.Retention.ClusterSimilarity,
		MinClusterSize:     cfg.Retention.MinClusterSize,
	}

	if cfg.Generation.MaxTokens > 0 {
		ec.MaxTokens = cfg.Generation.MaxTokens
	}
	if cfg.Personality.SystemPrompt != "" {
		ec.SystemPrompt = cfg.Personality.SystemPrompt
	}
	if cfg.Personality.PersonaName != "" {
		ec.PersonaName = cfg.Personality.PersonaName
	}
	return ec
}
