// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"time"
)

// Memory kinds. The set is open; these are the kinds the engine produces.
const (
	KindChat      = "chat"
	KindGift      = "gift"
	KindFollow    = "follow"
	KindShare     = "share"
	KindSubscribe = "subscribe"
	KindLike      = "like"
	KindJoin      = "join"
	KindResponse  = "response"
)

// Conversation roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Memory is one atomic remembered fact, scoped to a streamer
type Memory struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Streamer       string     `gorm:"index;not null" json:"streamer"`
	Kind           string     `gorm:"index;not null" json:"kind"`
	Content        string     `gorm:"type:text;not null" json:"content"`
	ContextNote    string     `gorm:"type:text" json:"context_note,omitempty"`
	Payload        string     `gorm:"type:text" json:"payload,omitempty"` // free text the event carried
	Embedding      []byte     `json:"-"` // little-endian float32, immutable once set
	Importance     float64    `gorm:"not null" json:"importance"`
	AccessCount    int        `gorm:"not null;default:0" json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	Tags           []string   `gorm:"serializer:json;type:text" json:"tags,omitempty"`
	SourceUser     string     `gorm:"index" json:"source_user,omitempty"`
	SourceEvent    string     `json:"source_event,omitempty"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for Memory
func (Memory) TableName() string {
	return "memories"
}

// InteractionEntry is one element of a profile's bounded interaction history
type InteractionEntry struct {
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// UserProfile aggregates everything known about one viewer of one streamer
type UserProfile struct {
	ID                    uint               `gorm:"primaryKey" json:"id"`
	Streamer              string             `gorm:"uniqueIndex:idx_profiles_streamer_user;not null" json:"streamer"`
	Username              string             `gorm:"uniqueIndex:idx_profiles_streamer_user;not null" json:"username"`
	Nickname              string             `json:"nickname,omitempty"`
	InteractionCount      int                `gorm:"not null;default:0" json:"interaction_count"`
	GiftCount             int                `gorm:"not null;default:0" json:"gift_count"`
	TotalGiftValue        float64            `gorm:"not null;default:0" json:"total_gift_value"`
	StreamAppearanceCount int                `gorm:"not null;default:0" json:"stream_appearance_count"`
	LastSeenAt            *time.Time         `json:"last_seen_at,omitempty"`
	LastInteractionAt     *time.Time         `json:"last_interaction_at,omitempty"`
	LastTopic             string             `json:"last_topic,omitempty"`
	InteractionHistory    []InteractionEntry `gorm:"serializer:json;type:text" json:"interaction_history"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// TableName specifies the table name for UserProfile
func (UserProfile) TableName() string {
	return "user_profiles"
}

// ConversationTurn is one append-only line of a session transcript
type ConversationTurn struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Streamer        string    `gorm:"not null" json:"streamer"`
	SessionID       string    `gorm:"not null" json:"session_id"`
	Role            string    `gorm:"not null" json:"role"`
	Content         string    `gorm:"type:text;not null" json:"content"`
	SpeakerUsername string    `json:"speaker_username,omitempty"`
	Emotion         string    `json:"emotion,omitempty"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for ConversationTurn
func (ConversationTurn) TableName() string {
	return "conversations"
}

// Archive is a summary over a set of memories. The referenced memories are
// not owned by the archive and are never deleted or flagged by it.
type Archive struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Streamer       string    `gorm:"index;not null" json:"streamer"`
	SummaryText    string    `gorm:"type:text;not null" json:"summary_text"`
	MemoryIDs      []uint    `gorm:"serializer:json;type:text" json:"memory_ids"`
	TimeRangeStart time.Time `json:"time_range_start"`
	TimeRangeEnd   time.Time `json:"time_range_end"`
	KeyTopics      []string  `gorm:"serializer:json;type:text" json:"key_topics"`
	KeyUsers       []string  `gorm:"serializer:json;type:text" json:"key_users"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName specifies the table name for Archive
func (Archive) TableName() string {
	return "memory_archives"
}

// PersonalitySetting is a shared key/value entry of the personality table.
// It is the only table not scoped by streamer.
type PersonalitySetting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for PersonalitySetting
func (PersonalitySetting) TableName() string {
	return "personality"
}

// Personality setting keys read by the engine
const (
	SettingSystemPrompt = "system_prompt"
	SettingPersonaName  = "persona_name"
)

// StreamerLease marks the process currently ingesting events for a
// streamer. A lease past ExpiresAt may be taken over by anyone.
type StreamerLease struct {
	Streamer  string    `gorm:"primaryKey" json:"streamer"`
	Version   int64     `gorm:"not null;default:1" json:"version"`
	Holder    string    `gorm:"not null" json:"holder"`
	LockedAt  time.Time `gorm:"not null" json:"locked_at"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
}

// TableName specifies the table name for StreamerLease
func (StreamerLease) TableName() string {
	return "streamer_leases"
}

// VocabularyToken is one slot of a streamer's embedding vocabulary. Ordinals
// are assigned once and outlive the memories that introduced the token.
type VocabularyToken struct {
	Streamer string `gorm:"primaryKey" json:"streamer"`
	Token    string `gorm:"primaryKey" json:"token"`
	Ordinal  int    `gorm:"not null" json:"ordinal"`
}

// TableName specifies the table name for VocabularyToken
func (VocabularyToken) TableName() string {
	return "vocabulary"
}
