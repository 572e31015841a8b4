package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wuwenbin0122/turnrelay/internal/models"
)

const (
	DefaultHistoryLimit = 20
	DefaultMemoryLimit  = 5
)

// Assembled is the result of context assembly for one turn.
type Assembled struct {
	UserMessage *models.Message
	Prompt      []openai.ChatCompletionMessage
}

type Assembler struct {
	store        Store
	cache        UserContextCache
	historyLimit int
	memoryLimit  int
	logger       *zap.Logger
}

type AssemblerOption func(*Assembler)

func WithUserContextCache(cache UserContextCache) AssemblerOption {
	return func(a *Assembler) { a.cache = cache }
}

// WithLimits lowers the history and memory windows. Values outside
// (0, default] keep the default.
func WithLimits(history, memories int) AssemblerOption {
	return func(a *Assembler) {
		if history > 0 && history <= DefaultHistoryLimit {
			a.historyLimit = history
		}
		if memories > 0 && memories <= DefaultMemoryLimit {
			a.memoryLimit = memories
		}
	}
}

func NewAssembler(store Store, logger *zap.Logger, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		store:        store,
		historyLimit: DefaultHistoryLimit,
		memoryLimit:  DefaultMemoryLimit,
		logger:       logger,
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble persists the user's message and builds the prompt for the turn.
// The user message write is the first store write; if it fails no prompt is
// built and the returned error is a *PersistenceError.
func (a *Assembler) Assemble(ctx context.Context, userID, conversationID, userText string) (*Assembled, error) {
	conversation, err := a.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("chat: load conversation: %w", err)
	}
	if conversation.UserID != userID {
		return nil, ErrConversationNotFound
	}

	userMsg, err := a.store.InsertMessage(ctx, conversationID, models.RoleUser, userText)
	if err != nil {
		return nil, &PersistenceError{Op: "user message", Err: err}
	}

	var (
		recent  []models.Message
		summary *models.RollingSummary
		userCtx *models.UserContext
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// One extra row so the just-inserted message can be dropped without
		// shrinking the window.
		rows, err := a.store.RecentMessages(gctx, conversationID, a.historyLimit+1)
		if err != nil {
			return fmt.Errorf("chat: load history: %w", err)
		}
		recent = rows
		return nil
	})
	g.Go(func() error {
		row, err := a.store.GetSummary(gctx, conversationID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("chat: load summary: %w", err)
		}
		summary = row
		return nil
	})
	g.Go(func() error {
		uc, err := a.loadUserContext(gctx, userID)
		if err != nil {
			return err
		}
		userCtx = uc
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	history := chronological(recent, userMsg.ID, a.historyLimit)
	prompt := BuildPrompt(PromptInput{
		History:  history,
		Summary:  summary,
		Context:  userCtx,
		UserText: userText,
	})

	a.logger.Debug("prompt assembled",
		zap.String("conversation_id", conversationID),
		zap.Int("history", len(history)),
		zap.Bool("summary", summary != nil),
		zap.Int("prompt_messages", len(prompt)),
	)

	return &Assembled{UserMessage: userMsg, Prompt: prompt}, nil
}

func (a *Assembler) loadUserContext(ctx context.Context, userID string) (*models.UserContext, error) {
	if a.cache != nil {
		if uc, ok := a.cache.Load(ctx, userID); ok {
			return uc, nil
		}
	}

	pref, err := a.store.GetPreference(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("chat: load preferences: %w", err)
	}

	memories, err := a.store.RecentMemories(ctx, userID, a.memoryLimit)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("chat: load memories: %w", err)
	}
	if len(memories) > a.memoryLimit {
		memories = memories[:a.memoryLimit]
	}

	uc := &models.UserContext{Memories: memories}
	if !pref.Empty() {
		uc.Preference = pref
	}

	if a.cache != nil {
		a.cache.Save(ctx, userID, uc)
	}

	return uc, nil
}

// chronological drops the excluded message from a newest-first slice, keeps at
// most limit rows, and returns them oldest first.
func chronological(newestFirst []models.Message, excludeID string, limit int) []models.Message {
	kept := make([]models.Message, 0, len(newestFirst))
	for _, msg := range newestFirst {
		if excludeID != "" && msg.ID == excludeID {
			continue
		}
		kept = append(kept, msg)
		if len(kept) == limit {
			break
		}
	}

	slices.Reverse(kept)

	// Re-sort in case the store did not honour the newest-first ordering.
	slices.SortStableFunc(kept, func(x, y models.Message) int {
		return x.CreatedAt.Compare(y.CreatedAt)
	})

	return kept
}
