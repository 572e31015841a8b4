package chat

import (
	"context"

	"github.com/wuwenbin0122/turnrelay/internal/models"
)

// Store is the slice of the conversation store the relay reads and writes.
// Lookups of absent rows return models.ErrNotFound.
type Store interface {
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	InsertMessage(ctx context.Context, conversationID string, role models.Role, content string) (*models.Message, error)
	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	GetSummary(ctx context.Context, conversationID string) (*models.RollingSummary, error)
	GetPreference(ctx context.Context, userID string) (*models.UserPreference, error)
	// RecentMemories returns up to limit facts, most recently refreshed first.
	RecentMemories(ctx context.Context, userID string, limit int) ([]models.MemoryFact, error)
}

// UserContextCache is an optional read-through cache for per-user prompt facts.
type UserContextCache interface {
	Load(ctx context.Context, userID string) (*models.UserContext, bool)
	Save(ctx context.Context, userID string, uc *models.UserContext)
}
