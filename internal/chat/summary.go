package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SummaryTrigger asks the summarizer collaborator to refresh a conversation's
// rolling summary. It imposes no timeout of its own.
type SummaryTrigger struct {
	endpoint string
	client   httpDoer
}

func NewSummaryTrigger(endpoint string, client httpDoer) *SummaryTrigger {
	if client == nil {
		client = &http.Client{}
	}
	return &SummaryTrigger{endpoint: strings.TrimSpace(endpoint), client: client}
}

type summaryRequest struct {
	ConversationID string `json:"conversation_id"`
}

// Refresh posts the conversation id with the caller's original Authorization
// header so the collaborator acts as the same user.
func (t *SummaryTrigger) Refresh(ctx context.Context, conversationID, authorization string) error {
	if t.endpoint == "" {
		return fmt.Errorf("chat: summary endpoint is not configured")
	}

	body, err := json.Marshal(summaryRequest{ConversationID: conversationID})
	if err != nil {
		return fmt.Errorf("chat: marshal summary request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chat: create summary request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		request.Header.Set("Authorization", authorization)
	}

	response, err := t.client.Do(request)
	if err != nil {
		return fmt.Errorf("chat: call summary endpoint: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorSnippet))
		return fmt.Errorf("chat: summary endpoint returned %d: %s", response.StatusCode, strings.TrimSpace(string(raw)))
	}

	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}
