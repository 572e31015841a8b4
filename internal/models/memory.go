package models

import "time"

// RollingSummary holds at most one row per conversation.
type RollingSummary struct {
	ConversationID string
	Summary        string
	UpdatedAt      time.Time
}

// UserPreference fields are optional; an empty string means not set.
type UserPreference struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname,omitempty"`
	Pronouns string `json:"pronouns,omitempty"`
	Tone     string `json:"tone,omitempty"`
}

func (p *UserPreference) Empty() bool {
	return p == nil || (p.Nickname == "" && p.Pronouns == "" && p.Tone == "")
}

// MemoryFact is a per-user fact with a confidence score in [0,1].
type MemoryFact struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Fact        string    `json:"fact"`
	Confidence  float64   `json:"confidence"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// UserContext bundles the per-user facts injected into a prompt.
type UserContext struct {
	Preference *UserPreference `json:"preference,omitempty"`
	Memories   []MemoryFact    `json:"memories,omitempty"`
}
