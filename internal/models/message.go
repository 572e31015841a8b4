package models

import (
	"math"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Message is one persisted turn half. Ordering is by CreatedAt.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// HistoryQuery selects one page of a conversation's messages, oldest first.
// An empty Roles slice means every role.
type HistoryQuery struct {
	ConversationID string
	Roles          []string
	Page           int
	PageSize       int
}

// Offset is the number of rows before the page. It is never negative; a page
// too far out to address saturates at math.MaxInt and reads as past the end.
func (q HistoryQuery) Offset() int {
	if q.Page <= 1 || q.PageSize <= 0 {
		return 0
	}
	if q.Page-1 > math.MaxInt/q.PageSize {
		return math.MaxInt
	}
	return (q.Page - 1) * q.PageSize
}

type MessagePage struct {
	Messages []Message
	Total    int64
}
