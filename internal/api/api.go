package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/turnrelay/internal/auth"
	"github.com/wuwenbin0122/turnrelay/internal/chat"
	"github.com/wuwenbin0122/turnrelay/internal/models"
)

const (
	corsAllowHeaders = "authorization, x-client-info, apikey, content-type"
	corsAllowMethods = "POST, GET, OPTIONS"

	defaultPageSize = 50
	maxPageSize     = 200
	maxPage         = 100_000
)

// ChatService is the turn lifecycle the handlers drive.
type ChatService interface {
	Prepare(ctx context.Context, authorization, conversationID, userText string) (*chat.Turn, error)
	Stream(ctx context.Context, turn *chat.Turn, sink chat.Sink) error
}

type ConversationLookup interface {
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
}

type HistoryReader interface {
	ListMessages(ctx context.Context, q models.HistoryQuery) (*models.MessagePage, error)
}

type Dependencies struct {
	Chat          ChatService
	Authenticator chat.Authenticator
	Conversations ConversationLookup
	History       HistoryReader
	AllowedOrigin string
	Logger        *zap.Logger
}

type Handler struct {
	chat          ChatService
	auth          chat.Authenticator
	conversations ConversationLookup
	history       HistoryReader
	allowedOrigin string
	logger        *zap.Logger
	upgrader      websocket.Upgrader
}

func NewHandler(deps Dependencies) *Handler {
	h := &Handler{
		chat:          deps.Chat,
		auth:          deps.Authenticator,
		conversations: deps.Conversations,
		history:       deps.History,
		allowedOrigin: deps.AllowedOrigin,
		logger:        deps.Logger,
	}
	if h.allowedOrigin == "" {
		h.allowedOrigin = "*"
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	apiGroup := router.Group("/api")
	apiGroup.Use(h.cors)

	apiGroup.OPTIONS("/chat", h.handlePreflight)
	apiGroup.POST("/chat", h.handleChat)
	apiGroup.GET("/chat/ws", h.handleChatWebsocket)

	apiGroup.GET("/conversations/:id/messages", h.handleHistory)
}

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	UserText       string `json:"user_text"`
}

func (h *Handler) cors(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", h.allowedOrigin)
	c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
	c.Header("Access-Control-Allow-Methods", corsAllowMethods)
	c.Next()
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigin == "*" {
		return true
	}
	return r.Header.Get("Origin") == h.allowedOrigin
}

func (h *Handler) handlePreflight(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *Handler) handleChat(c *gin.Context) {
	ctx := c.Request.Context()
	authorization := c.GetHeader("Authorization")

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		status, message := h.rejectPayload(ctx, authorization)
		h.writeError(c, status, message, err)
		return
	}

	turn, err := h.chat.Prepare(ctx, authorization, req.ConversationID, req.UserText)
	if err != nil {
		status, message := statusFor(err)
		h.writeError(c, status, message, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	if err := h.chat.Stream(ctx, turn, newSSESink(c.Writer)); err != nil {
		h.logger.Warn("chat stream ended with error",
			zap.String("turn_id", turn.ID),
			zap.String("conversation_id", turn.ConversationID),
			zap.Error(err),
		)
	}
}

func (h *Handler) handleHistory(c *gin.Context) {
	if h.history == nil || h.conversations == nil {
		h.writeError(c, http.StatusServiceUnavailable, "history unavailable", errors.New("no history reader configured"))
		return
	}

	ctx := c.Request.Context()
	identity, err := h.auth.Authenticate(ctx, c.GetHeader("Authorization"))
	if err != nil {
		h.writeError(c, http.StatusUnauthorized, "unauthorized", err)
		return
	}

	conversationID := strings.TrimSpace(c.Param("id"))
	conv, err := h.conversations.GetConversation(ctx, conversationID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		h.writeError(c, http.StatusInternalServerError, "failed to load conversation", err)
		return
	}
	if conv == nil || conv.UserID != identity.UserID {
		h.writeError(c, http.StatusNotFound, "conversation not found", chat.ErrConversationNotFound)
		return
	}

	query := models.HistoryQuery{
		ConversationID: conversationID,
		Roles:          parseRoles(c.Query("roles")),
		Page:           parsePositiveInt(c.Query("page"), 1),
		PageSize:       parsePositiveInt(c.Query("page_size"), defaultPageSize),
	}
	if query.PageSize > maxPageSize {
		query.PageSize = maxPageSize
	}
	if query.Page > maxPage {
		h.writeError(c, http.StatusBadRequest, "page out of range", fmt.Errorf("page %d exceeds %d", query.Page, maxPage))
		return
	}

	page, err := h.history.ListMessages(ctx, query)
	if err != nil {
		h.writeError(c, http.StatusInternalServerError, "failed to list messages", err)
		return
	}

	c.JSON(http.StatusOK, historyResponse{
		Data: page.Messages,
		Pagination: pagination{
			Page:     query.Page,
			PageSize: query.PageSize,
			Total:    page.Total,
		},
	})
}

type historyResponse struct {
	Data       []models.Message `json:"data"`
	Pagination pagination       `json:"pagination"`
}

type pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

// rejectPayload answers an unreadable request body. Unauthenticated callers
// get 401 whatever they sent.
func (h *Handler) rejectPayload(ctx context.Context, authorization string) (int, string) {
	if _, err := h.auth.Authenticate(ctx, authorization); err != nil {
		return http.StatusUnauthorized, "unauthorized"
	}
	return http.StatusBadRequest, "invalid payload"
}

// statusFor maps a Prepare failure to the status and message the caller sees.
// Upstream rejections keep the provider's own status code.
func statusFor(err error) (int, string) {
	var (
		persistErr  *chat.PersistenceError
		upstreamErr *chat.UpstreamError
	)

	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		return http.StatusBadRequest, "conversation_id and user_text are required"
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, chat.ErrConversationNotFound):
		return http.StatusNotFound, "conversation not found"
	case errors.As(err, &persistErr):
		return http.StatusInternalServerError, "failed to persist message"
	case errors.As(err, &upstreamErr):
		if upstreamErr.StatusCode == 0 {
			return http.StatusBadGateway, "upstream unavailable"
		}
		message := upstreamErr.Message
		if message == "" {
			message = http.StatusText(upstreamErr.StatusCode)
		}
		return upstreamErr.StatusCode, message
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) writeError(c *gin.Context, status int, message string, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", status), zap.String("path", c.FullPath()), zap.Error(err))
	} else {
		h.logger.Debug("request rejected", zap.Int("status", status), zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
