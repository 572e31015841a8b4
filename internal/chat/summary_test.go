package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryTriggerForwardsCaller(t *testing.T) {
	var (
		body   summaryRequest
		header string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		header = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	err := NewSummaryTrigger(server.URL, nil).Refresh(context.Background(), "conv-7", "Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "conv-7", body.ConversationID)
	assert.Equal(t, "Bearer abc", header)
}

func TestSummaryTriggerNon2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "summarizer down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := NewSummaryTrigger(server.URL, nil).Refresh(context.Background(), "conv-7", "Bearer abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "summarizer down")
}

func TestSummaryTriggerRequiresEndpoint(t *testing.T) {
	assert.Error(t, NewSummaryTrigger(" ", nil).Refresh(context.Background(), "conv-7", ""))
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "USER_MSG_PERSISTED", StateUserMessagePersisted.String())
	assert.Equal(t, "SUMMARY_DISPATCHED", StateSummaryDispatched.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}
