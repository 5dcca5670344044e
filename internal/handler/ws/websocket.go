package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/freibot/backend/internal/handler/ask"
	"github.com/zhouzirui/freibot/backend/internal/service/rag"
	"github.com/zhouzirui/freibot/backend/pkg/logger"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// Conversation streams answers within sessions.
type Conversation interface {
	ConverseStream(ctx context.Context, sessionID, question string, emit func(delta string) error) (*rag.Answer, string, error)
}

// WebSocketHandler WebSocket问答处理器
type WebSocketHandler struct {
	conv     Conversation
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(conv Conversation) *WebSocketHandler {
	return &WebSocketHandler{
		conv: conv,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// QuestionMessage 问题消息
type QuestionMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connection serialises writes; gorilla connections allow one concurrent writer.
type connection struct {
	conn *websocket.Conn
	mu   sync.Mutex
	// sessionID is the last session used on this connection.
	sessionID string
}

func (c *connection) writeJSON(msg outgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.conv == nil {
		status, msg := ask.StatusFor(ask.ErrNotLoaded)
		http.Error(w, msg, status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	c := &connection{conn: conn, sessionID: r.URL.Query().Get("session_id")}
	logger.Infof("[websocket] new connection session=%s", c.sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.pingLoop(ctx, conn)

	h.sendInfo(c, map[string]any{"type": "connected"})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warnf("[websocket] read error: %v", err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleMessage(ctx, c, &msg)
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, c *connection, msg *inboundMessage) {
	switch msg.Type {
	case "question":
		h.handleQuestion(ctx, c, msg)
	case "ping":
		h.sendInfo(c, map[string]any{"type": "pong"})
	default:
		h.sendError(c, "unsupported message type: "+msg.Type)
	}
}

func (h *WebSocketHandler) handleQuestion(ctx context.Context, c *connection, msg *inboundMessage) {
	var q QuestionMessage
	if err := json.Unmarshal(msg.Data, &q); err != nil {
		h.sendError(c, "invalid question payload")
		return
	}
	if strings.TrimSpace(q.Text) == "" {
		h.sendError(c, "question text is required")
		return
	}

	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = c.sessionID
	}

	ans, sessionID, err := h.conv.ConverseStream(ctx, sessionID, q.Text, func(delta string) error {
		return c.writeJSON(outgoingMessage{
			Type:      "result",
			SessionID: sessionID,
			Data:      map[string]any{"type": "delta", "content": delta},
			Timestamp: time.Now().Unix(),
		})
	})
	c.sessionID = sessionID
	if err != nil {
		logger.Warnf("[websocket] session=%s answer failed: %v", sessionID, err)
		_, message := ask.StatusFor(err)
		h.sendError(c, message)
		return
	}

	h.sendInfo(c, map[string]any{
		"type":     "answer",
		"answer":   ans.Answer,
		"question": ans.Question,
		"sources":  ans.Sources,
	})
}

func (h *WebSocketHandler) sendInfo(c *connection, data map[string]any) {
	msg := outgoingMessage{
		Type:      "result",
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := c.writeJSON(msg); err != nil {
		logger.Warnf("[websocket] write info failed: %v", err)
	}
}

func (h *WebSocketHandler) sendError(c *connection, message string) {
	msg := outgoingMessage{
		Type:      "error",
		SessionID: c.sessionID,
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}
	if err := c.writeJSON(msg); err != nil {
		logger.Warnf("[websocket] write error failed: %v", err)
	}
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
