// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package gate decides which events deserve a generated response.
package gate

import (
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/tejzpr/palmem/internal/logging"
)

// Defaults of Config
const (
	DefaultCooldown              = 3 * time.Second
	DefaultSpeakThreshold        = 0.5
	DefaultMaxResponsesPerWindow = 10
	DefaultRateWindow            = time.Minute

	// maxAcceptProbability keeps some qualifying events unanswered
	maxAcceptProbability = 0.9
	acceptBoost          = 0.2
)

// Reasons reported by Evaluate
const (
	ReasonAccepted    = "accepted"
	ReasonCooldown    = "cooldown"
	ReasonBelowFloor  = "below_threshold"
	ReasonRateLimited = "rate_limited"
	ReasonDamped      = "damped"
)

// RandSource yields uniform numbers in [0, 1)
type RandSource interface {
	Float64() float64
}

type randFunc func() float64

func (f randFunc) Float64() float64 { return f() }

// Config holds the gate thresholds
type Config struct {
	Cooldown              time.Duration
	SpeakThreshold        float64
	MaxResponsesPerWindow int
	RateWindow            time.Duration
}

// DefaultConfig returns the default gate configuration
func DefaultConfig() Config {
	return Config{
		Cooldown:              DefaultCooldown,
		SpeakThreshold:        DefaultSpeakThreshold,
		MaxResponsesPerWindow: DefaultMaxResponsesPerWindow,
		RateWindow:            DefaultRateWindow,
	}
}

// Option configures a Gate
type Option func(*Gate)

// WithRandSource replaces the random source of the acceptance draw
func WithRandSource(r RandSource) Option {
	return func(g *Gate) {
		if r != nil {
			g.rng = r
		}
	}
}

// WithLogger sets the logger for gate decisions
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Decision is the outcome of one gate evaluation
type Decision struct {
	Respond bool   `json:"respond"`
	Reason  string `json:"reason"`
}

// State is a snapshot of the gate's mutable state
type State struct {
	LastResponseAt time.Time `json:"last_response_at"`
	WindowStart    time.Time `json:"window_start"`
	Responses      int       `json:"responses"`
}

// Gate holds the per-tenant cooldown and rate limiter state. The rate
// window is reset lazily on evaluation; there is no background timer.
type Gate struct {
	cfg    Config
	rng    RandSource
	logger *slog.Logger

	mu             sync.Mutex
	lastResponseAt time.Time
	windowStart    time.Time
	responses      int
}

// New creates a gate
func New(cfg Config, opts ...Option) *Gate {
	if cfg.MaxResponsesPerWindow <= 0 {
		cfg.MaxResponsesPerWindow = DefaultMaxResponsesPerWindow
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = DefaultRateWindow
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}

	g := &Gate{
		cfg:    cfg,
		rng:    randFunc(rand.Float64),
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Config returns the gate configuration
func (g *Gate) Config() Config {
	return g.cfg
}

// ShouldRespond reports whether an event of importance seen at now should
// get a response. An accepted evaluation starts a new cooldown and counts
// against the rate limit.
func (g *Gate) ShouldRespond(kind string, importance float64, now time.Time) bool {
	return g.Evaluate(kind, importance, now).Respond
}

// Evaluate is ShouldRespond reporting why an event was rejected
func (g *Gate) Evaluate(kind string, importance float64, now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	decision := g.evaluate(importance, now)
	g.logger.Debug("gate evaluated",
		"kind", kind,
		"importance", importance,
		"respond", decision.Respond,
		"reason", decision.Reason,
	)
	return decision
}

func (g *Gate) evaluate(importance float64, now time.Time) Decision {
	if !g.lastResponseAt.IsZero() && now.Sub(g.lastResponseAt) < g.cfg.Cooldown {
		return Decision{Reason: ReasonCooldown}
	}
	if math.IsNaN(importance) || importance < g.cfg.SpeakThreshold {
		return Decision{Reason: ReasonBelowFloor}
	}

	if g.windowStart.IsZero() || now.Sub(g.windowStart) > g.cfg.RateWindow {
		g.responses = 0
		g.windowStart = now
	}
	if g.responses >= g.cfg.MaxResponsesPerWindow {
		return Decision{Reason: ReasonRateLimited}
	}

	if g.rng.Float64() >= min(maxAcceptProbability, importance+acceptBoost) {
		return Decision{Reason: ReasonDamped}
	}

	g.responses++
	g.lastResponseAt = now
	return Decision{Respond: true, Reason: ReasonAccepted}
}

// State returns a snapshot of the cooldown and rate limiter state
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		LastResponseAt: g.lastResponseAt,
		WindowStart:    g.windowStart,
		Responses:      g.responses,
	}
}

// Reset clears the cooldown and the rate limiter
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastResponseAt = time.Time{}
	g.windowStart = time.Time{}
	g.responses = 0
}
