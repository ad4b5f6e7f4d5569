package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/pipeline"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketRequest asks the server to process one invoice. Image is base64
// in JSON.
type WebSocketRequest struct {
	Type     string `json:"type"`
	Image    []byte `json:"image,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// WebSocketResponse is every message the server sends: progress events, the
// completed result or an error.
type WebSocketResponse struct {
	Type      string          `json:"type"` // "progress", "completed", "error"
	SessionID string          `json:"session_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Stage     string          `json:"stage,omitempty"`
	Current   int             `json:"current,omitempty"`
	Total     int             `json:"total,omitempty"`
	Progress  float64         `json:"progress,omitempty"`
	Result    *invoice.Result `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorType string          `json:"error_type,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// lockedWriter serializes writes; progress events arrive from recognition
// goroutines.
type lockedWriter struct {
	mu   sync.Mutex
	conn WebSocketConnWriter
}

func (l *lockedWriter) WriteMessage(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteMessage(messageType, data)
}

// invoiceWebSocketHandler streams invoice processing progress.
func (s *Server) invoiceWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	sessionID := uuid.NewString()
	s.logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr, "session_id", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	s.handleWebSocketConnection(ctx, conn, sessionID)
}

func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn, sessionID string) {
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	out := &lockedWriter{conn: conn}
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket error", "session_id", sessionID, "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, out, sessionID, data)
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	}
}

// handleWebSocketMessage processes one request and replies on conn.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, sessionID string, data []byte) {
	var req WebSocketRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, sessionID, "", "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if req.Type != "process" {
		s.sendWebSocketError(conn, sessionID, "", "invalid_request", "Unsupported request type: "+req.Type)
		return
	}

	requestID := uuid.NewString()
	if len(req.Image) == 0 {
		s.sendWebSocketError(conn, sessionID, requestID, "invalid_request", "No image data provided")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	progress := &wsProgress{server: s, conn: conn, sessionID: sessionID, requestID: requestID}
	res, err := s.processor.ProcessWithProgress(ctx, req.Image, progress)
	if err != nil {
		invoiceRequestsTotal.WithLabelValues("websocket", "error").Inc()
		s.sendWebSocketError(conn, sessionID, requestID, "processing_error", fmt.Sprintf("invoice processing failed: %v", err))
		return
	}
	invoiceRequestsTotal.WithLabelValues("websocket", "success").Inc()
	invoiceLinesExtracted.WithLabelValues("image").Observe(float64(len(res.Lines)))

	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      "completed",
		SessionID: sessionID,
		RequestID: requestID,
		Progress:  1.0,
		Result:    res,
	})
}

// wsProgress forwards pipeline progress to the client.
type wsProgress struct {
	server    *Server
	conn      WebSocketConnWriter
	sessionID string
	requestID string
}

var _ pipeline.ProgressCallback = (*wsProgress)(nil)

func (p *wsProgress) send(resp WebSocketResponse) {
	resp.Type = "progress"
	resp.SessionID = p.sessionID
	resp.RequestID = p.requestID
	p.server.sendWebSocketResponse(p.conn, resp)
}

func (p *wsProgress) OnStage(stage string) { p.send(WebSocketResponse{Stage: stage}) }

func (p *wsProgress) OnStart(total int) {
	p.send(WebSocketResponse{Stage: pipeline.StageRecognize, Total: total})
}

func (p *wsProgress) OnProgress(current, total int) {
	var frac float64
	if total > 0 {
		frac = float64(current) / float64(total)
	}
	p.send(WebSocketResponse{Stage: pipeline.StageRecognize, Current: current, Total: total, Progress: frac})
}

func (p *wsProgress) OnComplete() {}

func (p *wsProgress) OnError(current int, err error) {
	p.server.logger.Debug("Cell recognition failed", "request_id", p.requestID, "cell", current, "error", err)
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to marshal WebSocket response", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, sessionID, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      "error",
		SessionID: sessionID,
		RequestID: requestID,
		Error:     message,
		ErrorType: errorType,
	})
}
