package db

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wuwenbin0122/turnrelay/internal/models"
)

// Memory is a process-local store for development runs (STORE_DRIVER=memory)
// and tests. Nothing survives a restart.
type Memory struct {
	mu            sync.RWMutex
	now           func() time.Time
	users         map[string]models.User
	conversations map[string]models.Conversation
	messages      map[string][]models.Message
	summaries     map[string]models.RollingSummary
	preferences   map[string]models.UserPreference
	memories      map[string][]models.MemoryFact
}

func NewMemory() *Memory {
	return &Memory{
		now:           func() time.Time { return time.Now().UTC() },
		users:         make(map[string]models.User),
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.Message),
		summaries:     make(map[string]models.RollingSummary),
		preferences:   make(map[string]models.UserPreference),
		memories:      make(map[string][]models.MemoryFact),
	}
}

func (m *Memory) AddUser(user models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

func (m *Memory) AddConversation(conv models.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = m.now()
	}
	m.conversations[conv.ID] = conv
}

// AppendMessage stores msg as given, keeping its timestamp. Used for seeding.
func (m *Memory) AppendMessage(msg models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
}

func (m *Memory) SetPreference(pref models.UserPreference) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preferences[pref.UserID] = pref
}

func (m *Memory) AddMemory(fact models.MemoryFact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	m.memories[fact.UserID] = append(m.memories[fact.UserID], fact)
}

func (m *Memory) UpsertSummary(_ context.Context, conversationID, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[conversationID] = models.RollingSummary{ConversationID: conversationID, Summary: summary, UpdatedAt: m.now()}
	return nil
}

// Messages returns a copy of a conversation's messages in insertion order.
func (m *Memory) Messages(conversationID string) []models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.messages[conversationID])
}

func (m *Memory) UserExists(_ context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[userID]
	return ok, nil
}

func (m *Memory) GetConversation(_ context.Context, conversationID string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &conv, nil
}

func (m *Memory) InsertMessage(_ context.Context, conversationID string, role models.Role, content string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[conversationID]; !ok {
		return nil, fmt.Errorf("memory: insert message: %w", models.ErrNotFound)
	}

	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      m.now(),
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	return &msg, nil
}

func (m *Memory) RecentMessages(_ context.Context, conversationID string, limit int) ([]models.Message, error) {
	m.mu.RLock()
	sorted := slices.Clone(m.messages[conversationID])
	m.mu.RUnlock()

	// Newest first; insertion order breaks timestamp ties.
	slices.Reverse(sorted)
	slices.SortStableFunc(sorted, func(x, y models.Message) int {
		return y.CreatedAt.Compare(x.CreatedAt)
	})
	if limit >= 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

func (m *Memory) GetSummary(_ context.Context, conversationID string) (*models.RollingSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summary, ok := m.summaries[conversationID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &summary, nil
}

func (m *Memory) GetPreference(_ context.Context, userID string) (*models.UserPreference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pref, ok := m.preferences[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &pref, nil
}

func (m *Memory) RecentMemories(_ context.Context, userID string, limit int) ([]models.MemoryFact, error) {
	m.mu.RLock()
	facts := slices.Clone(m.memories[userID])
	m.mu.RUnlock()

	slices.SortStableFunc(facts, func(x, y models.MemoryFact) int {
		return y.RefreshedAt.Compare(x.RefreshedAt)
	})
	if limit >= 0 && len(facts) > limit {
		facts = facts[:limit]
	}
	return facts, nil
}

func (m *Memory) ListMessages(_ context.Context, q models.HistoryQuery) (*models.MessagePage, error) {
	m.mu.RLock()
	all := slices.Clone(m.messages[q.ConversationID])
	m.mu.RUnlock()

	slices.SortStableFunc(all, func(x, y models.Message) int {
		return x.CreatedAt.Compare(y.CreatedAt)
	})

	filtered := all[:0]
	for _, msg := range all {
		if len(q.Roles) == 0 || slices.Contains(q.Roles, string(msg.Role)) {
			filtered = append(filtered, msg)
		}
	}

	page := &models.MessagePage{Total: int64(len(filtered)), Messages: []models.Message{}}
	start := q.Offset()
	if start < 0 || start >= len(filtered) {
		return page, nil
	}
	end := len(filtered)
	if q.PageSize > 0 && start+q.PageSize < end {
		end = start + q.PageSize
	}
	page.Messages = append(page.Messages, filtered[start:end]...)
	return page, nil
}
