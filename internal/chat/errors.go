package chat

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput          = errors.New("chat: conversation_id and user_text are required")
	ErrConversationNotFound  = errors.New("chat: conversation not found")
	ErrUpstreamNotConfigured = errors.New("chat: upstream api key is not configured")
)

// PersistenceError is a failed user-turn write. The turn is aborted before any
// upstream call.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("chat: persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// UpstreamError carries the completion provider's status code so it can be
// surfaced to the caller as-is.
type UpstreamError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("chat: upstream request failed: %v", e.Err)
	}
	return fmt.Sprintf("chat: upstream returned %d: %s", e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// StreamFatalError is a mid-stream read or write failure. Headers are already
// committed so the only signal left is aborting the outbound stream.
type StreamFatalError struct {
	Err error
}

func (e *StreamFatalError) Error() string {
	return fmt.Sprintf("chat: stream aborted: %v", e.Err)
}

func (e *StreamFatalError) Unwrap() error { return e.Err }

// DetachedFailure is reported to the failure sink and never to the caller.
type DetachedFailure struct {
	Op             string
	ConversationID string
	Err            error
}

func (f DetachedFailure) Error() string {
	return fmt.Sprintf("chat: detached %s for conversation %s: %v", f.Op, f.ConversationID, f.Err)
}

func (f DetachedFailure) Unwrap() error { return f.Err }
