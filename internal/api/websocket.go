package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const firstFrameTimeout = 30 * time.Second

// handleChatWebsocket runs one turn per connection. The first client text
// frame carries the chat request; the upstream stream comes back as text
// frames and the server closes the connection when the turn ends.
func (h *Handler) handleChatWebsocket(c *gin.Context) {
	authorization := c.GetHeader("Authorization")
	if authorization == "" {
		if token := strings.TrimSpace(c.Query("token")); token != "" {
			authorization = "Bearer " + token
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("chat websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(firstFrameTimeout))
	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			h.logger.Debug("chat websocket closed before request", zap.Error(err))
		}
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var req chatRequest
	if msgType != websocket.TextMessage || json.Unmarshal(payload, &req) != nil {
		status, message := h.rejectPayload(ctx, authorization)
		h.closeWithError(conn, status, message)
		return
	}

	turn, err := h.chat.Prepare(ctx, authorization, req.ConversationID, req.UserText)
	if err != nil {
		status, message := statusFor(err)
		h.logger.Debug("chat websocket turn rejected", zap.Int("status", status), zap.Error(err))
		h.closeWithError(conn, status, message)
		return
	}

	// Reading is needed to see the client go away; nothing else is expected.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := h.chat.Stream(ctx, turn, newWSSink(conn)); err != nil {
		h.logger.Warn("chat websocket stream ended with error",
			zap.String("turn_id", turn.ID),
			zap.String("conversation_id", turn.ConversationID),
			zap.Error(err),
		)
		return
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlTimeout))
}

func (h *Handler) closeWithError(conn *websocket.Conn, status int, message string) {
	_ = conn.WriteJSON(gin.H{"error": message, "status": status})

	code := websocket.CloseInternalServerErr
	switch {
	case status == http.StatusUnauthorized:
		code = websocket.ClosePolicyViolation
	case status >= 400 && status < 500:
		code = websocket.CloseInvalidFramePayloadData
	}
	msg := websocket.FormatCloseMessage(code, message)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlTimeout))
}
