package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	defaultUpstreamBaseURL = "https://api.openai.com/v1"
	defaultUpstreamModel   = "gpt-4o-mini"
	maxErrorBodyBytes      = 64 << 10
	maxErrorSnippet        = 256
)

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

type UpstreamConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// HeaderTimeout bounds the wait for response headers only; the body of a
	// streaming response is never cut off by the client.
	HeaderTimeout time.Duration
}

// Upstream opens streaming chat completions against an OpenAI-compatible API.
type Upstream struct {
	baseURL string
	apiKey  string
	model   string
	client  httpDoer
	logger  *zap.Logger
}

func NewUpstream(cfg UpstreamConfig, logger *zap.Logger) *Upstream {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultUpstreamBaseURL
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultUpstreamModel
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.HeaderTimeout > 0 {
		transport.ResponseHeaderTimeout = cfg.HeaderTimeout
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Upstream{
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   model,
		client:  &http.Client{Transport: transport},
		logger:  logger,
	}
}

// Model reports the completion model requests are issued against.
func (u *Upstream) Model() string { return u.model }

// Open issues a single streaming completion request. On a 2xx response the
// caller owns the returned body. Failures are never retried.
func (u *Upstream) Open(ctx context.Context, prompt []openai.ChatCompletionMessage) (io.ReadCloser, error) {
	if u.apiKey == "" {
		return nil, ErrUpstreamNotConfigured
	}

	payload := openai.ChatCompletionRequest{
		Model:    u.model,
		Messages: prompt,
		Stream:   true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("chat: marshal completion payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("chat: create completion request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+u.apiKey)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "text/event-stream")

	response, err := u.client.Do(request)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		defer response.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		u.logger.Error("upstream rejected completion request",
			zap.Int("status", response.StatusCode),
			zap.ByteString("body", raw),
		)
		return nil, &UpstreamError{StatusCode: response.StatusCode, Message: upstreamErrorMessage(response.StatusCode, raw)}
	}

	return response.Body, nil
}

func upstreamErrorMessage(statusCode int, body []byte) string {
	var envelope openai.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		if msg := strings.TrimSpace(envelope.Error.Message); msg != "" {
			return msg
		}
	}

	snippet := strings.TrimSpace(string(body))
	if snippet == "" {
		snippet = http.StatusText(statusCode)
	}
	if len(snippet) > maxErrorSnippet {
		snippet = snippet[:maxErrorSnippet]
	}

	return snippet
}
