// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package engine ties the memory store, the similarity index, the decision
// gate and the text generator together for one streamer.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/tejzpr/palmem/internal/database"
	"github.com/tejzpr/palmem/internal/embeddings"
	"github.com/tejzpr/palmem/internal/gate"
	"github.com/tejzpr/palmem/internal/generation"
	"github.com/tejzpr/palmem/internal/lexicon"
	"github.com/tejzpr/palmem/internal/logging"
	"github.com/tejzpr/palmem/internal/rebuild"
	"github.com/tejzpr/palmem/internal/store"
)

// ErrClosed is returned by mutating calls after Shutdown
var ErrClosed = errors.New("engine is shut down")

const responseImportance = 0.5

// Output is what the presenter receives for a generated reply
type Output struct {
	Streamer  string `json:"streamer"`
	Username  string `json:"username,omitempty"`
	Text      string `json:"text"`
	Emotion   string `json:"emotion,omitempty"`
	WasCached bool   `json:"was_cached"`
}

// Presenter renders generated replies
type Presenter interface {
	Present(ctx context.Context, out Output) error
}

// PresenterFunc adapts a function to Presenter
type PresenterFunc func(ctx context.Context, out Output) error

// Present calls f
func (f PresenterFunc) Present(ctx context.Context, out Output) error {
	return f(ctx, out)
}

// Option configures an Engine
type Option func(*Engine)

// WithGenerator sets the text generator. Without one no replies are produced.
func WithGenerator(g generation.Generator) Option {
	return func(e *Engine) { e.generator = g }
}

// WithPresenter sets the output collaborator
func WithPresenter(p Presenter) Option {
	return func(e *Engine) { e.presenter = p }
}

// WithLogger sets the engine logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source used for events and gate evaluations
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRandSource sets the random source of the gate's acceptance draw
func WithRandSource(r gate.RandSource) Option {
	return func(e *Engine) { e.rng = r }
}

// WithSessionID overrides the generated conversation session id
func WithSessionID(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.sessionID = id
		}
	}
}

// Outcome reports what Ingest did with an event
type Outcome struct {
	MemoryID         uint               `json:"memory_id"`
	Content          string             `json:"content"`
	Importance       float64            `json:"importance"`
	Decision         gate.Decision      `json:"decision"`
	Response         *generation.Result `json:"response,omitempty"`
	ResponseMemoryID uint               `json:"response_memory_id,omitempty"`
}

// Engine is the semantic memory of one streamer. Mutations are serialized;
// similarity queries may run concurrently with them.
type Engine struct {
	cfg       Config
	st        *store.Store
	settings  *store.Settings
	stats     *lexicon.CorpusStats
	embedder  *embeddings.Generator
	index     *embeddings.Index
	scorer    gate.Scorer
	gate      *gate.Gate
	generator generation.Generator
	presenter Presenter
	logger    *slog.Logger
	rng       gate.RandSource
	now       func() time.Time
	sessionID string

	mu       sync.Mutex
	appeared map[string]struct{}
	closed   bool
}

// New creates the engine of st's streamer and rebuilds its index from the store
func New(ctx context.Context, st *store.Store, settings *store.Settings, cfg Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:       cfg,
		st:        st,
		settings:  settings,
		logger:    logging.From(ctx),
		now:       func() time.Time { return time.Now().UTC() },
		sessionID: uuid.NewString(),
		appeared:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("streamer", st.Streamer())

	e.stats = lexicon.NewCorpusStats(lexicon.NewTokenizer(cfg.MinTokenLength))
	e.embedder = embeddings.NewGenerator(e.stats, cfg.Embedding)
	e.index = embeddings.NewIndex(e.embedder)
	e.scorer = gate.NewScorer(cfg.SupporterThreshold)

	gateOpts := []gate.Option{gate.WithLogger(e.logger)}
	if e.rng != nil {
		gateOpts = append(gateOpts, gate.WithRandSource(e.rng))
	}
	e.gate = gate.New(cfg.Gate, gateOpts...)

	if _, err := rebuild.RebuildIndex(ctx, st, e.index, rebuild.Options{Logger: e.logger}); err != nil {
		return nil, goerr.Wrap(err, "failed to load memories", goerr.V("streamer", st.Streamer()))
	}
	return e, nil
}

// Streamer returns the tenant scope
func (e *Engine) Streamer() string {
	return e.st.Streamer()
}

// SessionID returns the conversation session of this engine instance
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Store returns the durable store
func (e *Engine) Store() *store.Store {
	return e.st
}

// Index returns the similarity index
func (e *Engine) Index() *embeddings.Index {
	return e.index
}

// Gate returns the decision gate
func (e *Engine) Gate() *gate.Gate {
	return e.gate
}

// Ingest records ev as a memory and, if the gate lets it through, produces
// a reply. The event memory is committed before any generation attempt; a
// failed generation only means there is no reply.
func (e *Engine) Ingest(ctx context.Context, ev gate.Event) (*Outcome, error) {
	if strings.TrimSpace(ev.Kind) == "" {
		return nil, goerr.Wrap(store.ErrInvalidRecord, "event kind is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	now := e.now()

	var userStats gate.UserStats
	if ev.Username != "" {
		if p, ok := e.st.GetProfile(ctx, ev.Username); ok {
			userStats = gate.UserStats{InteractionCount: p.InteractionCount, TotalGiftValue: p.TotalGiftValue}
		}
	}
	importance := e.scorer.Importance(ev, userStats)

	content := Describe(ev)
	rec := &database.Memory{
		Kind:        ev.Kind,
		Content:     content,
		Importance:  importance,
		Payload:     eventPayload(ev),
		SourceUser:  ev.Username,
		SourceEvent: ev.Kind,
		CreatedAt:   now,
	}
	if ev.Kind == database.KindGift && ev.Metrics.GiftName != "" {
		rec.Tags = []string{ev.Metrics.GiftName}
	}
	memID, err := e.remember(ctx, rec)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{MemoryID: memID, Content: content, Importance: importance}

	if ev.Kind == database.KindChat && strings.TrimSpace(ev.Content) != "" {
		e.appendTurn(ctx, store.Turn{SessionID: e.sessionID, Role: database.RoleUser, Content: ev.Content, Speaker: ev.Username})
	}
	e.updateProfile(ctx, ev, memID, importance)

	outcome.Decision = e.gate.Evaluate(ev.Kind, importance, now)
	if !outcome.Decision.Respond || e.generator == nil {
		return outcome, nil
	}

	e.respond(ctx, ev, content, outcome)
	return outcome, nil
}

// respond runs generation and records the reply. Failures are logged and
// leave outcome without a response.
func (e *Engine) respond(ctx context.Context, ev gate.Event, content string, outcome *Outcome) {
	pc := e.promptContext(ctx, content, ev.Username)

	res, err := e.generator.Generate(ctx, pc, generation.Options{MaxTokens: e.cfg.MaxTokens})
	if err != nil {
		e.logger.WarnContext(ctx, "generation failed", "memory_id", outcome.MemoryID, "error", err)
		return
	}
	if res == nil || strings.TrimSpace(res.Text) == "" {
		e.logger.WarnContext(ctx, "generation produced no text", "memory_id", outcome.MemoryID)
		return
	}
	outcome.Response = res

	respID, err := e.remember(ctx, &database.Memory{
		Kind:        database.KindResponse,
		Content:     describeResponse(e.personaName(ctx), ev.Username, res.Text),
		Importance:  responseImportance,
		Payload:     res.Text,
		SourceEvent: ev.Kind,
		ContextNote: content,
		CreatedAt:   e.now(),
	})
	if err != nil {
		e.logger.WarnContext(ctx, "failed to store response memory", "error", err)
	} else {
		outcome.ResponseMemoryID = respID
	}
	e.appendTurn(ctx, store.Turn{SessionID: e.sessionID, Role: database.RoleAssistant, Content: res.Text, Emotion: res.Emotion})

	if e.presenter != nil {
		out := Output{
			Streamer:  e.Streamer(),
			Username:  ev.Username,
			Text:      res.Text,
			Emotion:   res.Emotion,
			WasCached: res.WasCached,
		}
		if err := e.presenter.Present(ctx, out); err != nil {
			e.logger.WarnContext(ctx, "presenter failed", "error", err)
		}
	}
}

// remember counts rec in the corpus statistics, embeds and stores it, and
// indexes the stored vector. The vocabulary slots the vector relies on are
// stored with it; a failed write leaves statistics and vocabulary untouched.
func (e *Engine) remember(ctx context.Context, rec *database.Memory) (uint, error) {
	e.stats.AddDocument(rec.Content)
	vec, entries := e.embedder.EmbedDocument(rec.Content)
	rec.Embedding = embeddings.Float32SliceToBlob(vec)

	id, err := e.st.StoreMemoryWithVocabulary(ctx, rec, rebuild.VocabularyTokens(entries))
	if err != nil {
		e.stats.RemoveDocument(rec.Content)
		return 0, err
	}
	e.embedder.Vocabulary().Commit(entries)
	if err := e.index.Insert(id, vec); err != nil {
		e.logger.WarnContext(ctx, "failed to index memory", "memory_id", id, "error", err)
	}
	return id, nil
}

func (e *Engine) appendTurn(ctx context.Context, turn store.Turn) {
	if _, err := e.st.AppendTurn(ctx, turn); err != nil {
		e.logger.WarnContext(ctx, "failed to append conversation turn", "role", turn.Role, "error", err)
	}
}

// updateProfile applies the per-user side effects of an event
func (e *Engine) updateProfile(ctx context.Context, ev gate.Event, memID uint, importance float64) {
	if ev.Username == "" {
		return
	}

	warn := func(op string, err error) {
		e.logger.WarnContext(ctx, "failed to update profile", "op", op, "username", ev.Username, "error", err)
	}

	if _, err := e.st.GetOrCreateProfile(ctx, ev.Username, ev.Nickname); err != nil {
		warn("get_or_create", err)
		return
	}

	if _, seen := e.appeared[ev.Username]; !seen {
		if _, err := e.st.RecordAppearance(ctx, ev.Username); err != nil {
			warn("record_appearance", err)
		} else {
			e.appeared[ev.Username] = struct{}{}
		}
	}

	if ev.Kind == database.KindGift {
		if _, err := e.st.RecordGift(ctx, ev.Username, ev.Metrics.DiamondValue); err != nil {
			warn("record_gift", err)
		}
	}

	metadata := map[string]any{
		"memory_id":  memID,
		"importance": importance,
	}
	if ev.Metrics.DiamondValue > 0 {
		metadata["diamond_value"] = ev.Metrics.DiamondValue
	}
	entryContent := ev.Content
	if entryContent == "" {
		entryContent = Describe(ev)
	}
	if _, err := e.st.AppendInteraction(ctx, ev.Username, database.InteractionEntry{
		Type:      ev.Kind,
		Content:   entryContent,
		Timestamp: e.now(),
		Metadata:  metadata,
	}); err != nil {
		warn("append_interaction", err)
	}

	if ev.Kind == database.KindChat {
		if kws := e.index.ExtractKeywords(ev.Content, 1); len(kws) > 0 {
			if _, err := e.st.UpdateLastTopic(ctx, ev.Username, kws[0].Token); err != nil {
				warn("update_last_topic", err)
			}
		}
	}
}

// promptContext assembles everything the generator gets for one event
func (e *Engine) promptContext(ctx context.Context, eventText, username string) generation.PromptContext {
	pc := generation.PromptContext{
		SystemPrompt: e.systemPrompt(ctx),
		Memories:     e.assembleContext(ctx, eventText, username, e.cfg.Context.MaxItems),
		Event:        eventText,
	}

	if username != "" {
		if p, ok := e.st.GetProfile(ctx, username); ok {
			pc.UserInfo = describeProfile(p)
		}
	}

	for _, t := range e.st.GetHistory(ctx, e.sessionID, e.cfg.Context.HistoryLimit) {
		pc.ConversationHistory = append(pc.ConversationHistory, generation.Turn{
			Role:    t.Role,
			Speaker: t.SpeakerUsername,
			Content: t.Content,
		})
	}
	return pc
}

func (e *Engine) systemPrompt(ctx context.Context) string {
	if e.settings != nil {
		if v, ok := e.settings.Get(ctx, database.SettingSystemPrompt); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return e.cfg.SystemPrompt
}

func (e *Engine) personaName(ctx context.Context) string {
	if e.settings != nil {
		if v, ok := e.settings.Get(ctx, database.SettingPersonaName); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	if e.cfg.PersonaName != "" {
		return e.cfg.PersonaName
	}
	return "Pal"
}
