package db_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/wuwenbin0122/turnrelay/internal/db"
	"github.com/wuwenbin0122/turnrelay/internal/models"
	"github.com/wuwenbin0122/turnrelay/internal/utils"
)

func TestMongoStoreRoundTrip(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set; skipping mongo integration test")
	}

	database := "turnrelay_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	cfg := utils.MongoConfig{
		URI:            uri,
		Database:       database,
		ConnectTimeout: 5 * time.Second,
	}

	store, err := db.NewMongo(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to connect to mongo: %v", err)
	}
	defer func() {
		ctx := context.Background()
		store.Database.Drop(ctx)
		store.Close(ctx)
	}()

	ctx := context.Background()
	if err := store.EnsureCollections(ctx); err != nil {
		t.Fatalf("ensure collections failed: %v", err)
	}

	userID := uuid.NewString()
	if _, err := store.Users.InsertOne(ctx, bson.M{"_id": userID, "email": "sam@example.com"}); err != nil {
		t.Fatalf("failed to insert user: %v", err)
	}
	convID := uuid.NewString()
	if _, err := store.Conversations.InsertOne(ctx, bson.M{
		"_id":        convID,
		"user_id":    userID,
		"title":      "test",
		"created_at": time.Now().UTC(),
	}); err != nil {
		t.Fatalf("failed to insert conversation: %v", err)
	}

	exists, err := store.UserExists(ctx, userID)
	if err != nil || !exists {
		t.Fatalf("expected user to exist, got %v, %v", exists, err)
	}

	conv, err := store.GetConversation(ctx, convID)
	if err != nil || conv.UserID != userID {
		t.Fatalf("unexpected conversation %+v, %v", conv, err)
	}

	first, err := store.InsertMessage(ctx, convID, models.RoleUser, "hello")
	if err != nil {
		t.Fatalf("insert message failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := store.InsertMessage(ctx, convID, models.RoleAssistant, "hi there")
	if err != nil {
		t.Fatalf("insert message failed: %v", err)
	}

	recent, err := store.RecentMessages(ctx, convID, 10)
	if err != nil {
		t.Fatalf("recent messages failed: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != second.ID || recent[1].ID != first.ID {
		t.Fatalf("expected newest-first order, got %+v", recent)
	}

	if _, err := store.InsertMessage(ctx, uuid.NewString(), models.RoleUser, "orphan"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown conversation, got %v", err)
	}
	if _, err := store.GetSummary(ctx, convID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected no summary, got %v", err)
	}
	if _, err := store.GetPreference(ctx, userID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected no preferences, got %v", err)
	}

	page, err := store.ListMessages(ctx, models.HistoryQuery{ConversationID: convID, Page: 1, PageSize: 1})
	if err != nil {
		t.Fatalf("list messages failed: %v", err)
	}
	if page.Total != 2 || len(page.Messages) != 1 || page.Messages[0].ID != first.ID {
		t.Fatalf("unexpected history page %+v", page)
	}
}
