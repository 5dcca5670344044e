package stream

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/freibot/backend/internal/handler/ask"
	"github.com/zhouzirui/freibot/backend/internal/service/rag"
	"github.com/zhouzirui/freibot/backend/pkg/logger"
	"github.com/zhouzirui/freibot/backend/pkg/utils"
)

// Conversation streams answers within sessions.
type Conversation interface {
	ConverseStream(ctx context.Context, sessionID, question string, emit func(delta string) error) (*rag.Answer, string, error)
}

// Handler manages streaming answers via Server-Sent Events
type Handler struct {
	conv Conversation
}

// New creates a new stream handler
func New(conv Conversation) *Handler {
	return &Handler{conv: conv}
}

// RegisterRoutes 注册流式问答路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ask/stream", h.handleStream)
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
	Sources   any    `json:"sources,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	question := strings.TrimSpace(r.URL.Query().Get("question"))
	sessionID := r.URL.Query().Get("session_id")

	if question == "" {
		utils.RespondError(w, http.StatusBadRequest, "question query parameter is required")
		return
	}
	if h.conv == nil {
		status, msg := ask.StatusFor(ask.ErrNotLoaded)
		utils.RespondError(w, status, msg)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := h.HandleStreamRequest(r.Context(), w, flusher, sessionID, question); err != nil {
		logger.Warnf("[stream] session=%s failed: %v", sessionID, err)
	}
}

// HandleStreamRequest writes the start, delta, sources and end events for one
// question. Failures are reported as an error event.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sessionID, question string) error {
	if err := utils.SendSSEEvent(w, flusher, "start", StreamResponse{Event: "start", SessionID: sessionID}); err != nil {
		return err
	}

	ans, sessionID, err := h.conv.ConverseStream(ctx, sessionID, question, func(delta string) error {
		return utils.SendSSEEvent(w, flusher, "delta", StreamResponse{Event: "delta", Content: delta})
	})
	if err != nil {
		_, msg := ask.StatusFor(err)
		_ = utils.SendSSEEvent(w, flusher, "error", StreamResponse{Event: "error", SessionID: sessionID, Error: msg})
		return err
	}

	if err := utils.SendSSEEvent(w, flusher, "sources", StreamResponse{Event: "sources", SessionID: sessionID, Sources: ans.Sources}); err != nil {
		return err
	}
	return utils.SendSSEEvent(w, flusher, "end", StreamResponse{Event: "end", SessionID: sessionID, Finished: true})
}
