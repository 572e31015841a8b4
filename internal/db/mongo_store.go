package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wuwenbin0122/turnrelay/internal/models"
)

type conversationDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Title     string    `bson:"title"`
	CreatedAt time.Time `bson:"created_at"`
}

type messageDoc struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	Role           string    `bson:"role"`
	Content        string    `bson:"content"`
	CreatedAt      time.Time `bson:"created_at"`
}

type summaryDoc struct {
	ConversationID string    `bson:"_id"`
	Summary        string    `bson:"summary"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

type preferenceDoc struct {
	UserID   string  `bson:"_id"`
	Nickname *string `bson:"nickname,omitempty"`
	Pronouns *string `bson:"pronouns,omitempty"`
	Tone     *string `bson:"tone,omitempty"`
}

type memoryDoc struct {
	ID          string    `bson:"_id"`
	UserID      string    `bson:"user_id"`
	Fact        string    `bson:"fact"`
	Confidence  float64   `bson:"confidence"`
	RefreshedAt time.Time `bson:"refreshed_at"`
}

func (m *Mongo) UserExists(ctx context.Context, userID string) (bool, error) {
	count, err := m.Users.CountDocuments(ctx, bson.M{"_id": userID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("mongo: query user: %w", err)
	}
	return count > 0, nil
}

func (m *Mongo) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var doc conversationDoc
	if err := m.Conversations.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("mongo: query conversation: %w", err)
	}
	return &models.Conversation{ID: doc.ID, UserID: doc.UserID, Title: doc.Title, CreatedAt: doc.CreatedAt}, nil
}

// InsertMessage appends a message. Mongo has no foreign keys, so the
// conversation is checked first.
func (m *Mongo) InsertMessage(ctx context.Context, conversationID string, role models.Role, content string) (*models.Message, error) {
	count, err := m.Conversations.CountDocuments(ctx, bson.M{"_id": conversationID}, options.Count().SetLimit(1))
	if err != nil {
		return nil, fmt.Errorf("mongo: check conversation: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("mongo: insert message: %w", models.ErrNotFound)
	}

	doc := messageDoc{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           string(role),
		Content:        content,
		// Mongo stores milliseconds; truncate so the returned value matches reads.
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := m.Messages.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("mongo: insert message: %w", err)
	}

	return doc.model(), nil
}

func (m *Mongo) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := m.Messages.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: query messages: %w", err)
	}
	defer cursor.Close(ctx)

	messages := make([]models.Message, 0, limit)
	for cursor.Next(ctx) {
		var doc messageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo: decode message: %w", err)
		}
		messages = append(messages, *doc.model())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongo: iterate messages: %w", err)
	}

	return messages, nil
}

func (m *Mongo) GetSummary(ctx context.Context, conversationID string) (*models.RollingSummary, error) {
	var doc summaryDoc
	if err := m.Summaries.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("mongo: query summary: %w", err)
	}
	return &models.RollingSummary{ConversationID: doc.ConversationID, Summary: doc.Summary, UpdatedAt: doc.UpdatedAt}, nil
}

func (m *Mongo) GetPreference(ctx context.Context, userID string) (*models.UserPreference, error) {
	var doc preferenceDoc
	if err := m.Preferences.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("mongo: query preferences: %w", err)
	}
	return &models.UserPreference{
		UserID:   doc.UserID,
		Nickname: deref(doc.Nickname),
		Pronouns: deref(doc.Pronouns),
		Tone:     deref(doc.Tone),
	}, nil
}

func (m *Mongo) RecentMemories(ctx context.Context, userID string, limit int) ([]models.MemoryFact, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "refreshed_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := m.Memories.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: query memories: %w", err)
	}
	defer cursor.Close(ctx)

	var memories []models.MemoryFact
	for cursor.Next(ctx) {
		var doc memoryDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo: decode memory: %w", err)
		}
		memories = append(memories, models.MemoryFact{
			ID:          doc.ID,
			UserID:      doc.UserID,
			Fact:        doc.Fact,
			Confidence:  doc.Confidence,
			RefreshedAt: doc.RefreshedAt,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongo: iterate memories: %w", err)
	}

	return memories, nil
}

func (d messageDoc) model() *models.Message {
	return &models.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		Role:           models.Role(d.Role),
		Content:        d.Content,
		CreatedAt:      d.CreatedAt,
	}
}

// ListMessages is the Mongo counterpart of History.ListMessages.
func (m *Mongo) ListMessages(ctx context.Context, q models.HistoryQuery) (*models.MessagePage, error) {
	filter := bson.M{"conversation_id": q.ConversationID}
	if len(q.Roles) > 0 {
		filter["role"] = bson.M{"$in": q.Roles}
	}

	total, err := m.Messages.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongo: count messages: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(q.Offset())).
		SetLimit(int64(q.PageSize))

	cursor, err := m.Messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: query messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decode messages: %w", err)
	}

	page := &models.MessagePage{Messages: make([]models.Message, 0, len(docs)), Total: total}
	for _, d := range docs {
		page.Messages = append(page.Messages, *d.model())
	}
	return page, nil
}
