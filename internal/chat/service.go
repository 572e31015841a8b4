package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/turnrelay/internal/auth"
	"github.com/wuwenbin0122/turnrelay/internal/models"
)

// Turn outcomes reported to the Observer.
const (
	OutcomeInvalid      = "invalid"
	OutcomeUnauthorized = "unauthorized"
	OutcomeNotFound     = "not_found"
	OutcomePersistence  = "persistence_error"
	OutcomeInternal     = "internal_error"
	OutcomeUpstream     = "upstream_error"
	OutcomeStreamError  = "stream_error"
	OutcomeEmpty        = "empty"
	OutcomeCompleted    = "completed"
)

type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (auth.Identity, error)
}

type StreamOpener interface {
	Open(ctx context.Context, prompt []openai.ChatCompletionMessage) (io.ReadCloser, error)
}

type SummaryRefresher interface {
	Refresh(ctx context.Context, conversationID, authorization string) error
}

// Observer receives turn-level measurements. All methods must be cheap and
// safe for concurrent use.
type Observer interface {
	TurnFinished(outcome string, elapsed time.Duration)
	UpstreamFailed(statusCode int)
	Relayed(bytes int64, tokens, skipped int)
}

type nopObserver struct{}

func (nopObserver) TurnFinished(string, time.Duration) {}
func (nopObserver) UpstreamFailed(int)                 {}
func (nopObserver) Relayed(int64, int, int)            {}

type Dependencies struct {
	Authenticator Authenticator
	Store         Store
	Assembler     *Assembler
	Upstream      StreamOpener
	Summary       SummaryRefresher
	Detached      *Detached
	DecodeMode    DecodeMode
	Observer      Observer
	Logger        *zap.Logger
}

// Service runs chat turns: Prepare covers everything that can still be
// reported with a status code, Stream covers everything after headers are
// committed.
type Service struct {
	auth      Authenticator
	store     Store
	assembler *Assembler
	upstream  StreamOpener
	summary   SummaryRefresher
	detached  *Detached
	mode      DecodeMode
	observer  Observer
	logger    *zap.Logger
}

func NewService(deps Dependencies) *Service {
	s := &Service{
		auth:      deps.Authenticator,
		store:     deps.Store,
		assembler: deps.Assembler,
		upstream:  deps.Upstream,
		summary:   deps.Summary,
		detached:  deps.Detached,
		mode:      deps.DecodeMode,
		observer:  deps.Observer,
		logger:    deps.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.assembler == nil {
		s.assembler = NewAssembler(deps.Store, s.logger)
	}
	if s.detached == nil {
		s.detached = NewDetached(s.logger, nil)
	}
	return s
}

// Turn is one request's progress through the state machine. It is owned by the
// goroutine handling the request until the finalising task takes over the
// assistant write.
type Turn struct {
	ID             string
	Identity       auth.Identity
	ConversationID string
	UserMessage    *models.Message

	mu        sync.Mutex
	state     State
	assistant *models.Message

	started time.Time
	body    io.ReadCloser
	text    string
}

func (t *Turn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Assistant is the persisted assistant message, nil until the finalising task
// has written it.
func (t *Turn) Assistant() *models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.assistant
}

func (t *Turn) setState(state State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
}

// Text is the accumulated assistant text once streaming has completed.
func (t *Turn) Text() string { return t.text }

// Close releases the upstream stream if Stream was never called.
func (t *Turn) Close() error {
	if t.body == nil {
		return nil
	}
	err := t.body.Close()
	t.body = nil
	return err
}

// Prepare authenticates the caller, persists the user message, assembles the
// prompt and opens the upstream stream. On success the caller must either
// Stream or Close the returned turn.
func (s *Service) Prepare(ctx context.Context, authorization, conversationID, userText string) (*Turn, error) {
	turn := &Turn{
		ID:             uuid.NewString(),
		ConversationID: strings.TrimSpace(conversationID),
		state:          StateInit,
		started:        time.Now(),
	}
	logger := s.logger.With(zap.String("turn_id", turn.ID), zap.String("conversation_id", turn.ConversationID))

	identity, err := s.auth.Authenticate(ctx, authorization)
	if err != nil {
		logger.Info("caller rejected", zap.Error(err))
		s.finish(turn, OutcomeUnauthorized)
		return nil, err
	}
	turn.Identity = identity
	turn.setState(StateAuthenticated)

	if turn.ConversationID == "" || strings.TrimSpace(userText) == "" {
		s.finish(turn, OutcomeInvalid)
		return nil, ErrInvalidInput
	}

	assembled, err := s.assembler.Assemble(ctx, identity.UserID, turn.ConversationID, userText)
	if err != nil {
		var persistErr *PersistenceError
		switch {
		case errors.Is(err, ErrConversationNotFound):
			s.finish(turn, OutcomeNotFound)
		case errors.As(err, &persistErr):
			logger.Error("user message not persisted", zap.Error(err))
			s.finish(turn, OutcomePersistence)
		default:
			logger.Error("context assembly failed", zap.Error(err))
			s.finish(turn, OutcomeInternal)
		}
		return nil, err
	}
	turn.UserMessage = assembled.UserMessage
	turn.setState(StateUserMessagePersisted)

	body, err := s.upstream.Open(ctx, assembled.Prompt)
	if err != nil {
		var upstreamErr *UpstreamError
		if errors.As(err, &upstreamErr) {
			s.observer.UpstreamFailed(upstreamErr.StatusCode)
			s.finish(turn, OutcomeUpstream)
		} else {
			s.finish(turn, OutcomeInternal)
		}
		logger.Error("upstream stream not opened", zap.Error(err))
		return nil, err
	}
	turn.body = body

	return turn, nil
}

// Stream tees the upstream stream into sink and, on clean completion, hands
// the assistant write and the summary refresh to a detached task.
func (s *Service) Stream(ctx context.Context, turn *Turn, sink Sink) error {
	if turn.body == nil {
		return errors.New("chat: turn has no open stream")
	}
	defer turn.Close()

	logger := s.logger.With(zap.String("turn_id", turn.ID), zap.String("conversation_id", turn.ConversationID))

	turn.setState(StateStreaming)
	acc := NewAccumulator(s.mode)
	relay := NewRelay(sink, acc)

	err := relay.Run(ctx, turn.body)
	s.observer.Relayed(relay.Relayed(), acc.Tokens(), acc.Skipped())
	if acc.Skipped() > 0 {
		logger.Debug("skipped undecodable stream payloads", zap.Int("skipped", acc.Skipped()))
	}
	if err != nil {
		turn.setState(StateStreamError)
		logger.Warn("stream aborted", zap.Error(err), zap.Int64("relayed_bytes", relay.Relayed()))
		s.finish(turn, OutcomeStreamError)
		return err
	}

	turn.setState(StateCompleted)
	turn.text = acc.Text()
	s.complete(ctx, turn, logger)

	return nil
}

// complete hands the assistant write and the summary refresh to one detached
// task so the caller's stream ends as soon as the relay does. The write
// precedes the refresh; a failed write is reported and the refresh still runs.
func (s *Service) complete(ctx context.Context, turn *Turn, logger *zap.Logger) {
	if strings.TrimSpace(turn.text) == "" {
		logger.Info("empty assistant reply; nothing persisted")
		s.finish(turn, OutcomeEmpty)
		return
	}

	conversationID, authorization, text := turn.ConversationID, turn.Identity.Authorization, turn.text
	s.detached.Go(ctx, "summary_refresh", conversationID, func(ctx context.Context) error {
		msg, err := s.store.InsertMessage(ctx, conversationID, models.RoleAssistant, text)
		if err != nil {
			s.detached.Report(DetachedFailure{Op: "assistant_message", ConversationID: conversationID, Err: err})
		} else {
			turn.mu.Lock()
			turn.assistant = msg
			turn.state = StateAssistantMessagePersisted
			turn.mu.Unlock()
		}

		turn.setState(StateSummaryDispatched)
		return s.summary.Refresh(ctx, conversationID, authorization)
	})

	s.finish(turn, OutcomeCompleted)
}

func (s *Service) finish(turn *Turn, outcome string) {
	s.observer.TurnFinished(outcome, time.Since(turn.started))
}
