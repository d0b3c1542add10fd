// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"github.com/tejzpr/palmem/internal/embeddings"
	"github.com/tejzpr/palmem/internal/gate"
	"github.com/tejzpr/palmem/internal/lexicon"
)

// DefaultSystemPrompt is used when the personality table has no system prompt
const DefaultSystemPrompt = "Du bist Pal, ein freundlicher KI-Co-Host in einem Livestream. " +
	"Antworte kurz, locker und auf Deutsch. Beginne jede Antwort mit einer Emotion in eckigen Klammern, z.B. [happy]."

// ContextConfig bounds the assembled context
type ContextConfig struct {
	MaxItems           int
	SimilarLimit       int
	SimilarityFloor    float64
	UserLimit          int
	ImportantLimit     int
	ImportantThreshold float64
	HistoryLimit       int
}

// RetentionConfig drives pruning, purging and consolidation
type RetentionConfig struct {
	MemoryDays         int
	PruneMaxImportance float64
	ConversationDays   int
	ArchiveAfterDays   int
	ClusterSimilarity  float64
	MinClusterSize     int
}

// Config configures an Engine
type Config struct {
	Embedding          embeddings.GeneratorConfig
	MinTokenLength     int
	Gate               gate.Config
	SupporterThreshold float64
	Context            ContextConfig
	Retention          RetentionConfig
	MaxTokens          int
	SystemPrompt       string
	PersonaName        string
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		Embedding: embeddings.GeneratorConfig{
			Dimensions:         embeddings.DefaultDimensions,
			VocabularyCapacity: embeddings.DefaultVocabularyCapacity,
			Spread:             embeddings.DefaultSpread,
			SpreadStride:       embeddings.DefaultSpreadStride,
		},
		MinTokenLength:     lexicon.DefaultMinTokenLength,
		Gate:               gate.DefaultConfig(),
		SupporterThreshold: gate.DefaultSupporterThreshold,
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
			MemoryDays:         30,
			PruneMaxImportance: 0.3,
			ConversationDays:   7,
			ArchiveAfterDays:   7,
			ClusterSimilarity:  0.5,
			MinClusterSize:     2,
		},
		MaxTokens:    150,
		SystemPrompt: DefaultSystemPrompt,
		PersonaName:  "Pal",
	}
}
