package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuwenbin0122/turnrelay/internal/models"
)

type mapCache struct {
	mu    sync.Mutex
	items map[string]*models.UserContext
	saves int
}

func (c *mapCache) Load(_ context.Context, userID string) (*models.UserContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uc, ok := c.items[userID]
	return uc, ok
}

func (c *mapCache) Save(_ context.Context, userID string, uc *models.UserContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = map[string]*models.UserContext{}
	}
	c.items[userID] = uc
	c.saves++
}

func seedHistory(store *flakyStore, n int) time.Time {
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < n; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		store.AppendMessage(models.Message{
			ConversationID: fixtureConv,
			Role:           role,
			Content:        fmt.Sprintf("m%02d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
	}
	return base
}

func TestAssembleCapsHistoryAndKeepsChronologicalOrder(t *testing.T) {
	store := newFlakyStore(t)
	seedHistory(store, 25)

	a := NewAssembler(store, nil)
	out, err := a.Assemble(context.Background(), fixtureUser, fixtureConv, "latest")
	require.NoError(t, err)
	require.NotNil(t, out.UserMessage)

	// identity + behaviour + 20 history + user
	require.Len(t, out.Prompt, 2+DefaultHistoryLimit+1)
	history := out.Prompt[2 : 2+DefaultHistoryLimit]
	assert.Equal(t, "m05", history[0].Content)
	assert.Equal(t, "m24", history[len(history)-1].Content)
	for _, msg := range history {
		assert.NotEqual(t, "latest", msg.Content, "new message must not be duplicated in history")
	}
	assert.Equal(t, "latest", out.Prompt[len(out.Prompt)-1].Content)
}

func TestAssembleShortConversation(t *testing.T) {
	store := newFlakyStore(t)
	seedHistory(store, 2)

	out, err := NewAssembler(store, nil).Assemble(context.Background(), fixtureUser, fixtureConv, "hi again")
	require.NoError(t, err)

	require.Len(t, out.Prompt, 5)
	assert.Equal(t, "m00", out.Prompt[2].Content)
	assert.Equal(t, "m01", out.Prompt[3].Content)
	assert.Equal(t, "hi again", out.Prompt[4].Content)
}

func TestAssembleInjectsSummaryAndFacts(t *testing.T) {
	store := newFlakyStore(t)
	require.NoError(t, store.UpsertSummary(context.Background(), fixtureConv, "Earlier they planned a trip."))
	store.SetPreference(models.UserPreference{UserID: fixtureUser, Tone: "playful"})
	now := time.Now().UTC()
	for i := 0; i < 7; i++ {
		store.AddMemory(models.MemoryFact{
			UserID:      fixtureUser,
			Fact:        fmt.Sprintf("fact %d", i),
			Confidence:  0.5,
			RefreshedAt: now.Add(time.Duration(i) * time.Minute),
		})
	}

	out, err := NewAssembler(store, nil).Assemble(context.Background(), fixtureUser, fixtureConv, "hello")
	require.NoError(t, err)

	require.Len(t, out.Prompt, 5)
	assert.Equal(t, summaryHeader+"\nEarlier they planned a trip.", out.Prompt[2].Content)
	facts := out.Prompt[3].Content
	assert.Contains(t, facts, "Preferred tone: playful")
	assert.Contains(t, facts, "fact 6 (confidence: 0.50)")
	assert.Contains(t, facts, "fact 2 (confidence: 0.50)")
	assert.NotContains(t, facts, "fact 1 ")
}

func TestAssembleRejectsForeignConversation(t *testing.T) {
	store := newFlakyStore(t)

	_, err := NewAssembler(store, nil).Assemble(context.Background(), "someone-else", fixtureConv, "hello")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	_, err = NewAssembler(store, nil).Assemble(context.Background(), fixtureUser, "missing", "hello")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	assert.Empty(t, store.calls, "nothing may be written for an unknown conversation")
}

func TestAssembleUserWriteFailureIsPersistenceError(t *testing.T) {
	store := newFlakyStore(t)
	store.failInsert[models.RoleUser] = errBoom

	_, err := NewAssembler(store, nil).Assemble(context.Background(), fixtureUser, fixtureConv, "hello")

	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.ErrorIs(t, err, errBoom)
}

func TestAssembleReadFailureIsNotPersistenceError(t *testing.T) {
	store := newFlakyStore(t)
	store.failRecent = errBoom

	_, err := NewAssembler(store, nil).Assemble(context.Background(), fixtureUser, fixtureConv, "hello")
	require.ErrorIs(t, err, errBoom)

	var persistErr *PersistenceError
	assert.False(t, errors.As(err, &persistErr))
}

func TestAssembleUsesUserContextCache(t *testing.T) {
	store := newFlakyStore(t)
	store.SetPreference(models.UserPreference{UserID: fixtureUser, Nickname: "FromStore"})
	cache := &mapCache{items: map[string]*models.UserContext{
		fixtureUser: {Preference: &models.UserPreference{Nickname: "FromCache"}},
	}}

	out, err := NewAssembler(store, nil, WithUserContextCache(cache)).Assemble(context.Background(), fixtureUser, fixtureConv, "hi")
	require.NoError(t, err)
	assert.Equal(t, factsHeader+"\nNickname: FromCache", out.Prompt[2].Content)
	assert.Zero(t, cache.saves)

	delete(cache.items, fixtureUser)
	out, err = NewAssembler(store, nil, WithUserContextCache(cache)).Assemble(context.Background(), fixtureUser, fixtureConv, "hi")
	require.NoError(t, err)
	assert.Equal(t, factsHeader+"\nNickname: FromStore", out.Prompt[2].Content)
	assert.Equal(t, 1, cache.saves)
}

func TestWithLimits(t *testing.T) {
	store := newFlakyStore(t)
	seedHistory(store, 10)

	out, err := NewAssembler(store, nil, WithLimits(3, 1)).Assemble(context.Background(), fixtureUser, fixtureConv, "hi")
	require.NoError(t, err)
	require.Len(t, out.Prompt, 2+3+1)
	assert.Equal(t, "m07", out.Prompt[2].Content)
}

func TestWithLimitsNeverWidensWindow(t *testing.T) {
	store := newFlakyStore(t)
	seedHistory(store, 30)
	for i := 0; i < 8; i++ {
		store.AddMemory(models.MemoryFact{
			ID:          fmt.Sprintf("f%d", i),
			UserID:      fixtureUser,
			Fact:        fmt.Sprintf("fact %d", i),
			Confidence:  0.5,
			RefreshedAt: time.Now().Add(time.Duration(i) * time.Minute),
		})
	}

	out, err := NewAssembler(store, nil, WithLimits(50, 9)).Assemble(context.Background(), fixtureUser, fixtureConv, "hi")
	require.NoError(t, err)

	// identity, behaviour, runtime facts, 20 history, new message
	require.Len(t, out.Prompt, 3+DefaultHistoryLimit+1)
	assert.Equal(t, "m10", out.Prompt[3].Content)
	assert.Equal(t, "m29", out.Prompt[3+DefaultHistoryLimit-1].Content)
	assert.Equal(t, DefaultMemoryLimit, strings.Count(out.Prompt[2].Content, "(confidence:"))
}
