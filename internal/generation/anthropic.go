// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package generation

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultModel     = "claude-3-5-haiku-latest"
	DefaultMaxTokens = 150
	DefaultTimeout   = 20 * time.Second
)

// messageClient is the part of the Anthropic messages service in use
type messageClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Anthropic generates replies with the Claude messages API
type Anthropic struct {
	messages  messageClient
	model     string
	maxTokens int
	timeout   time.Duration
}

// AnthropicConfig configures the Claude adapter
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// NewAnthropic creates a Claude-backed generator
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, goerr.New("anthropic api key is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return newAnthropic(&client.Messages, cfg), nil
}

func newAnthropic(messages messageClient, cfg AnthropicConfig) *Anthropic {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Anthropic{
		messages:  messages,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
	}
}

// Generate asks Claude for a reply to pc
func (a *Anthropic) Generate(ctx context.Context, pc PromptContext, opts Options) (*Result, error) {
	maxTokens := a.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(RenderPrompt(pc))),
		},
	}
	if pc.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: pc.SystemPrompt}}
	}

	resp, err := a.messages.New(ctx, params)
	if err != nil {
		return nil, goerr.Wrap(err, "claude API error", goerr.V("model", a.model))
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return nil, goerr.Wrap(ErrNoText, "claude returned no text", goerr.V("model", a.model))
	}

	text, emotion := SplitEmotion(strings.Join(parts, "\n"))
	if text == "" {
		return nil, goerr.Wrap(ErrNoText, "claude returned only an emotion tag", goerr.V("model", a.model))
	}
	return &Result{Text: text, Emotion: emotion}, nil
}
