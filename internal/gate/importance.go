// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gate

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/tejzpr/palmem/internal/database"
)

// DefaultSupporterThreshold is the lifetime gift value above which a
// chatter counts as a known supporter
const DefaultSupporterThreshold = 100

// Metrics holds the numeric payload of an event
type Metrics struct {
	DiamondValue float64 `json:"diamond_value,omitempty"`
	GiftName     string  `json:"gift_name,omitempty"`
	GiftCount    int     `json:"gift_count,omitempty"`
	LikeCount    int     `json:"like_count,omitempty"`
}

// Event is a normalized live event
type Event struct {
	Kind     string  `json:"kind"`
	Username string  `json:"username"`
	Nickname string  `json:"nickname,omitempty"`
	Content  string  `json:"content,omitempty"`
	Metrics  Metrics `json:"metrics,omitempty"`
}

// UserStats is the part of a user profile the scorer looks at
type UserStats struct {
	InteractionCount int
	TotalGiftValue   float64
}

// Scorer computes event importance
type Scorer struct {
	SupporterThreshold float64
}

// NewScorer creates a scorer; a non-positive threshold uses the default
func NewScorer(supporterThreshold float64) Scorer {
	if supporterThreshold <= 0 {
		supporterThreshold = DefaultSupporterThreshold
	}
	return Scorer{SupporterThreshold: supporterThreshold}
}

// Importance returns the importance of ev in [0, 1]
func (s Scorer) Importance(ev Event, user UserStats) float64 {
	switch ev.Kind {
	case database.KindSubscribe:
		return 0.9
	case database.KindGift:
		return min(0.3+nonNegative(ev.Metrics.DiamondValue)/200, 1.0)
	case database.KindFollow:
		if user.InteractionCount > 3 {
			return 0.7
		}
		return 0.5
	case database.KindShare:
		return 0.6
	case database.KindChat:
		return s.chatImportance(ev.Content, user)
	case database.KindLike:
		if ev.Metrics.LikeCount >= 100 {
			return 0.4
		}
		return 0.1
	default:
		return 0.3
	}
}

// nonNegative maps NaN, infinities and negative values to 0
func nonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func (s Scorer) chatImportance(message string, user UserStats) float64 {
	importance := 0.3
	switch {
	case strings.ContainsAny(message, "?@"):
		importance = 0.7
	case utf8.RuneCountInString(message) > 50:
		importance = 0.5
	}
	if user.TotalGiftValue > s.SupporterThreshold {
		importance += 0.2
	}
	return min(importance, 1.0)
}
