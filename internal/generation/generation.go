// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package generation defines the text-generation collaborator and its adapters.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoText is returned when a generator produced nothing usable
var ErrNoText = errors.New("generator produced no text")

// Turn is one line of the conversation history handed to a generator
type Turn struct {
	Role    string `json:"role"`
	Speaker string `json:"speaker,omitempty"`
	Content string `json:"content"`
}

// PromptContext is everything a generator gets to see
type PromptContext struct {
	SystemPrompt        string   `json:"system_prompt"`
	Memories            []string `json:"memories"`
	UserInfo            string   `json:"user_info,omitempty"`
	ConversationHistory []Turn   `json:"conversation_history"`
	Event               string   `json:"event"`
}

// Options tune a single generation
type Options struct {
	MaxTokens int
}

// Result is a generated reply
type Result struct {
	Text      string `json:"text"`
	Emotion   string `json:"emotion,omitempty"`
	WasCached bool   `json:"was_cached"`
}

// Generator turns a prompt context into a reply
type Generator interface {
	Generate(ctx context.Context, pc PromptContext, opts Options) (*Result, error)
}

// RenderPrompt renders the non-system part of pc as a single user message
func RenderPrompt(pc PromptContext) string {
	var b strings.Builder

	if len(pc.Memories) > 0 {
		b.WriteString("Erinnerungen:\n")
		for _, m := range pc.Memories {
			fmt.Fprintf(&b, "- %s\n", m)
		}
		b.WriteString("\n")
	}
	if pc.UserInfo != "" {
		fmt.Fprintf(&b, "Zuschauer: %s\n\n", pc.UserInfo)
	}
	if len(pc.ConversationHistory) > 0 {
		b.WriteString("Verlauf:\n")
		for _, t := range pc.ConversationHistory {
			who := t.Role
			if t.Speaker != "" {
				who = t.Speaker
			}
			fmt.Fprintf(&b, "%s: %s\n", who, t.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Ereignis: %s", pc.Event)
	return b.String()
}

// SplitEmotion strips a leading "[emotion]" tag from a reply
func SplitEmotion(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "[") {
		return text, ""
	}
	end := strings.Index(text, "]")
	if end <= 1 {
		return text, ""
	}
	emotion := strings.ToLower(strings.TrimSpace(text[1:end]))
	if strings.ContainsAny(emotion, " \n") {
		return text, ""
	}
	return strings.TrimSpace(text[end+1:]), emotion
}
