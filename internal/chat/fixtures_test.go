package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/wuwenbin0122/turnrelay/internal/auth"
	"github.com/wuwenbin0122/turnrelay/internal/db"
	"github.com/wuwenbin0122/turnrelay/internal/models"
)

const (
	fixtureUser = "user-1"
	fixtureConv = "conv-1"
	fixtureAuth = "Bearer token-1"
)

// flakyStore wraps the in-memory store with per-role insert failures and a
// log of calls in the order they happened.
type flakyStore struct {
	*db.Memory

	mu         sync.Mutex
	failInsert map[models.Role]error
	failRecent error
	// assistantGate, when set, holds assistant inserts until it is closed.
	assistantGate chan struct{}
	calls         []string
	events     *[]string
}

func newFlakyStore(t *testing.T) *flakyStore {
	t.Helper()
	mem := db.NewMemory()
	mem.AddUser(models.User{ID: fixtureUser})
	mem.AddConversation(models.Conversation{ID: fixtureConv, UserID: fixtureUser})
	return &flakyStore{Memory: mem, failInsert: map[models.Role]error{}}
}

func (s *flakyStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	if s.events != nil {
		*s.events = append(*s.events, call)
	}
}

func (s *flakyStore) InsertMessage(ctx context.Context, conversationID string, role models.Role, content string) (*models.Message, error) {
	if role == models.RoleAssistant && s.assistantGate != nil {
		<-s.assistantGate
	}
	s.record("insert:" + string(role))
	if err := s.failInsert[role]; err != nil {
		return nil, err
	}
	return s.Memory.InsertMessage(ctx, conversationID, role, content)
}

func (s *flakyStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if s.failRecent != nil {
		return nil, s.failRecent
	}
	return s.Memory.RecentMessages(ctx, conversationID, limit)
}

type stubAuth struct {
	users map[string]string
}

func (a stubAuth) Authenticate(_ context.Context, header string) (auth.Identity, error) {
	userID, ok := a.users[header]
	if !ok {
		return auth.Identity{}, auth.ErrUnauthorized
	}
	return auth.Identity{UserID: userID, Authorization: header}, nil
}

type stubUpstream struct {
	mu      sync.Mutex
	body    string
	err     error
	prompts [][]openai.ChatCompletionMessage
	events  *[]string
	reader  func() io.ReadCloser
}

func (u *stubUpstream) Open(_ context.Context, prompt []openai.ChatCompletionMessage) (io.ReadCloser, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.prompts = append(u.prompts, prompt)
	if u.events != nil {
		*u.events = append(*u.events, "upstream")
	}
	if u.err != nil {
		return nil, u.err
	}
	if u.reader != nil {
		return u.reader(), nil
	}
	return io.NopCloser(strings.NewReader(u.body)), nil
}

func (u *stubUpstream) calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.prompts)
}

type stubSummary struct {
	mu    sync.Mutex
	err   error
	calls []summaryCall
}

type summaryCall struct {
	conversationID string
	authorization  string
}

func (s *stubSummary) Refresh(_ context.Context, conversationID, authorization string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, summaryCall{conversationID, authorization})
	return s.err
}

func (s *stubSummary) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func (r *failingReader) Close() error { return nil }

var errBoom = errors.New("boom")
