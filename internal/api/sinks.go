package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxCloseReason = 120
	controlTimeout = time.Second
)

type flushWriter interface {
	http.ResponseWriter
	http.Flusher
}

// sseSink writes upstream chunks to an event-stream response unchanged.
type sseSink struct {
	w flushWriter
}

func newSSESink(w flushWriter) *sseSink {
	return &sseSink{w: w}
}

func (s *sseSink) Send(chunk []byte) error {
	if _, err := s.w.Write(chunk); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

// Abort appends an error event. The leading blank lines end any event the
// upstream left half written.
func (s *sseSink) Abort(err error) {
	payload, _ := json.Marshal(map[string]string{"error": abortMessage(err)})
	_, _ = s.w.Write([]byte("\n\nevent: error\ndata: "))
	_, _ = s.w.Write(payload)
	_, _ = s.w.Write([]byte("\n\n"))
	s.w.Flush()
}

// wsSink forwards each chunk as one text frame. Only the relay goroutine
// writes data frames.
type wsSink struct {
	conn *websocket.Conn
}

func newWSSink(conn *websocket.Conn) *wsSink {
	return &wsSink{conn: conn}
}

func (s *wsSink) Send(chunk []byte) error {
	return s.conn.WriteMessage(websocket.TextMessage, chunk)
}

func (s *wsSink) Abort(err error) {
	reason := abortMessage(err)
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlTimeout))
}

func abortMessage(err error) string {
	if err == nil {
		return "stream aborted"
	}
	return "stream aborted: " + err.Error()
}
