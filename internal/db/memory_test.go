package db_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wuwenbin0122/turnrelay/internal/db"
	"github.com/wuwenbin0122/turnrelay/internal/models"
)

func TestMemoryRecentMessagesNewestFirst(t *testing.T) {
	store := db.NewMemory()
	store.AddConversation(models.Conversation{ID: "c1", UserID: "u1"})

	base := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	for i, content := range []string{"one", "two", "three"} {
		store.AppendMessage(models.Message{
			ConversationID: "c1",
			Role:           models.RoleUser,
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
	}

	recent, err := store.RecentMessages(context.Background(), "c1", 2)
	if err != nil {
		t.Fatalf("recent messages failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "three" || recent[1].Content != "two" {
		t.Fatalf("unexpected order: %+v", recent)
	}
}

func TestMemoryInsertMessageUnknownConversation(t *testing.T) {
	store := db.NewMemory()
	_, err := store.InsertMessage(context.Background(), "missing", models.RoleUser, "hi")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryListMessagesFiltersAndPages(t *testing.T) {
	store := db.NewMemory()
	store.AddConversation(models.Conversation{ID: "c1", UserID: "u1"})

	base := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	roles := []models.Role{models.RoleUser, models.RoleAssistant, models.RoleUser, models.RoleAssistant}
	for i, role := range roles {
		store.AppendMessage(models.Message{
			ConversationID: "c1",
			Role:           role,
			Content:        string(rune('a' + i)),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
	}

	page, err := store.ListMessages(context.Background(), models.HistoryQuery{
		ConversationID: "c1",
		Roles:          []string{"assistant"},
		Page:           2,
		PageSize:       1,
	})
	if err != nil {
		t.Fatalf("list messages failed: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("expected total 2, got %d", page.Total)
	}
	if len(page.Messages) != 1 || page.Messages[0].Content != "d" {
		t.Fatalf("unexpected page: %+v", page.Messages)
	}

	page, err = store.ListMessages(context.Background(), models.HistoryQuery{ConversationID: "c1", Page: 9, PageSize: 10})
	if err != nil {
		t.Fatalf("list messages failed: %v", err)
	}
	if len(page.Messages) != 0 || page.Total != 4 {
		t.Fatalf("expected empty page past the end, got %+v", page)
	}
}

func TestMemoryRecentMemoriesByFreshness(t *testing.T) {
	store := db.NewMemory()
	base := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	store.AddMemory(models.MemoryFact{UserID: "u1", Fact: "old", RefreshedAt: base})
	store.AddMemory(models.MemoryFact{UserID: "u1", Fact: "new", RefreshedAt: base.Add(time.Hour)})

	facts, err := store.RecentMemories(context.Background(), "u1", 1)
	if err != nil {
		t.Fatalf("recent memories failed: %v", err)
	}
	if len(facts) != 1 || facts[0].Fact != "new" {
		t.Fatalf("unexpected facts: %+v", facts)
	}
}

func TestMemoryListMessagesHugePage(t *testing.T) {
	store := db.NewMemory()
	store.AddConversation(models.Conversation{ID: "c1", UserID: "u1"})
	store.AppendMessage(models.Message{ConversationID: "c1", Role: models.RoleUser, Content: "a", CreatedAt: time.Now()})

	page, err := store.ListMessages(context.Background(), models.HistoryQuery{
		ConversationID: "c1",
		Page:           2305843009213693953,
		PageSize:       4,
	})
	if err != nil {
		t.Fatalf("list messages failed: %v", err)
	}
	if len(page.Messages) != 0 || page.Total != 1 {
		t.Fatalf("expected an empty page past the end, got %+v", page)
	}
}
