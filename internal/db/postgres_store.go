package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wuwenbin0122/turnrelay/internal/models"
)

func (p *Postgres) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`
	if err := p.Pool.QueryRow(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: query user: %w", err)
	}
	return exists, nil
}

func (p *Postgres) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	const query = `SELECT id, user_id, title, created_at FROM conversations WHERE id = $1`
	if err := p.Pool.QueryRow(ctx, query, conversationID).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: query conversation: %w", err)
	}
	return &conv, nil
}

// InsertMessage appends a message. A conversation removed between lookup and
// insert surfaces as models.ErrNotFound.
func (p *Postgres) InsertMessage(ctx context.Context, conversationID string, role models.Role, content string) (*models.Message, error) {
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}

	const query = `INSERT INTO messages (id, conversation_id, role, content) VALUES ($1, $2, $3, $4) RETURNING created_at`
	if err := p.Pool.QueryRow(ctx, query, msg.ID, conversationID, string(role), content).Scan(&msg.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, fmt.Errorf("postgres: insert message: %w", models.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: insert message: %w", err)
	}
	return msg, nil
}

func (p *Postgres) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	const query = `SELECT id, conversation_id, role, content, created_at FROM messages
WHERE conversation_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`

	rows, err := p.Pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		var (
			msg  models.Message
			role string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		msg.Role = models.Role(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate messages: %w", err)
	}

	return messages, nil
}

func (p *Postgres) GetSummary(ctx context.Context, conversationID string) (*models.RollingSummary, error) {
	summary := models.RollingSummary{ConversationID: conversationID}
	const query = `SELECT summary, updated_at FROM conversation_summaries WHERE conversation_id = $1`
	if err := p.Pool.QueryRow(ctx, query, conversationID).Scan(&summary.Summary, &summary.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: query summary: %w", err)
	}
	return &summary, nil
}

// UpsertSummary is used by operator tooling; the summarizer owns this row in
// production.
func (p *Postgres) UpsertSummary(ctx context.Context, conversationID, summary string) error {
	const query = `INSERT INTO conversation_summaries (conversation_id, summary, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (conversation_id) DO UPDATE SET summary = EXCLUDED.summary, updated_at = EXCLUDED.updated_at`
	if _, err := p.Pool.Exec(ctx, query, conversationID, summary, time.Now().UTC()); err != nil {
		return fmt.Errorf("postgres: upsert summary: %w", err)
	}
	return nil
}

func (p *Postgres) GetPreference(ctx context.Context, userID string) (*models.UserPreference, error) {
	var nickname, pronouns, tone *string
	const query = `SELECT nickname, pronouns, tone FROM user_preferences WHERE user_id = $1`
	if err := p.Pool.QueryRow(ctx, query, userID).Scan(&nickname, &pronouns, &tone); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: query preferences: %w", err)
	}

	return &models.UserPreference{
		UserID:   userID,
		Nickname: deref(nickname),
		Pronouns: deref(pronouns),
		Tone:     deref(tone),
	}, nil
}

func (p *Postgres) RecentMemories(ctx context.Context, userID string, limit int) ([]models.MemoryFact, error) {
	const query = `SELECT id, user_id, fact, confidence, refreshed_at FROM user_memories
WHERE user_id = $1 ORDER BY refreshed_at DESC LIMIT $2`

	rows, err := p.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query memories: %w", err)
	}
	defer rows.Close()

	var memories []models.MemoryFact
	for rows.Next() {
		var fact models.MemoryFact
		if err := rows.Scan(&fact.ID, &fact.UserID, &fact.Fact, &fact.Confidence, &fact.RefreshedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan memory: %w", err)
		}
		memories = append(memories, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate memories: %w", err)
	}

	return memories, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
