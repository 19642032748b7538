package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/m2i-duo/mandoc-ocr-api/internal/pipeline"
	"github.com/m2i-duo/mandoc-ocr-api/internal/utils"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 64 << 20
)

// Message types sent over the recognition websocket.
const (
	wsTypeWord      = "word"
	wsTypeCompleted = "completed"
	wsTypeError     = "error"
)

// WebSocketRecognizeRequest asks for one image to be recognized. Image is
// base64 in JSON. Mode is passed to the orchestrator as is and defaults to
// chunks.
type WebSocketRecognizeRequest struct {
	Backend string `json:"backend"`
	Mode    string `json:"mode,omitempty"`
	Image   []byte `json:"image"`
}

// WebSocketMessage is one server message. A request produces one "word"
// message per recognized word followed by "completed", or a single "error".
type WebSocketMessage struct {
	Type      string           `json:"type"`
	RequestID string           `json:"request_id,omitempty"`
	Index     int              `json:"index,omitempty"`
	Total     int              `json:"total,omitempty"`
	Word      *pipeline.Result `json:"word,omitempty"`
	Text      string           `json:"text,omitempty"`
	Stats     *pipeline.Stats  `json:"stats,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// WebSocketConnWriter is the part of *websocket.Conn used to send messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return s.corsOrigin == "*" || origin == "" || origin == s.corsOrigin
		},
	}
}

// recognizeWebSocketHandler streams word results while an image is processed.
func (s *Server) recognizeWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	s.logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket read failed", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		if messageType != websocket.TextMessage {
			continue
		}
		s.handleWebSocketMessage(r, conn, data)
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	}
}

// handleWebSocketMessage runs one request and writes its messages to conn.
func (s *Server) handleWebSocketMessage(r *http.Request, conn WebSocketConnWriter, data []byte) {
	requestID := uuid.New().String()
	sender := &wsSender{conn: conn, server: s}

	var req WebSocketRecognizeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		sender.send(WebSocketMessage{Type: wsTypeError, RequestID: requestID, Error: "invalid request: " + err.Error()})
		return
	}
	mode := pipeline.ModeChunks
	if req.Mode != "" {
		m, err := pipeline.ParseMode(req.Mode)
		if err != nil {
			sender.send(WebSocketMessage{Type: wsTypeError, RequestID: requestID, Error: err.Error()})
			return
		}
		mode = m
	}
	if len(req.Image) == 0 {
		sender.send(WebSocketMessage{Type: wsTypeError, RequestID: requestID, Error: "no image data provided"})
		return
	}
	svc, ok := s.backends[req.Backend]
	if !ok {
		sender.send(WebSocketMessage{Type: wsTypeError, RequestID: requestID, Error: "unknown or unavailable backend " + req.Backend})
		return
	}
	if s.rateLimiter != nil && s.rateLimiter.Enabled() {
		if err := s.rateLimiter.CheckRateLimit(getClientIP(r), int64(len(req.Image))); err != nil {
			sender.send(WebSocketMessage{Type: wsTypeError, RequestID: requestID, Error: err.Error()})
			return
		}
	}

	results, stats, err := s.recognize(r.Context(), svc, req.Backend, req.Image, mode, func(index, total int, res pipeline.Result) {
		sender.send(WebSocketMessage{Type: wsTypeWord, RequestID: requestID, Index: index, Total: total, Word: &res})
	})
	if err != nil {
		msg := "recognition failed: " + err.Error()
		var decodeErr *utils.DecodeError
		if errors.As(err, &decodeErr) {
			msg = err.Error()
		}
		sender.send(WebSocketMessage{Type: wsTypeError, RequestID: requestID, Error: msg})
		return
	}

	sender.send(WebSocketMessage{
		Type:      wsTypeCompleted,
		RequestID: requestID,
		Total:     len(results),
		Text:      pipeline.Merge(results),
		Stats:     &stats,
	})
}

// wsSender serializes writes to one connection.
type wsSender struct {
	mu     sync.Mutex
	conn   WebSocketConnWriter
	server *Server
}

func (ws *wsSender) send(msg WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		ws.server.logger.Error("Failed to marshal WebSocket message", "error", err)
		return
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		ws.server.logger.Warn("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}
