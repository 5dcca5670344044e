package ask

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/freibot/backend/internal/model/chat"
	"github.com/zhouzirui/freibot/backend/internal/model/document"
	chatService "github.com/zhouzirui/freibot/backend/internal/service/chat"
	"github.com/zhouzirui/freibot/backend/internal/service/rag"
	"github.com/zhouzirui/freibot/backend/pkg/logger"
	"github.com/zhouzirui/freibot/backend/pkg/utils"
)

// Conversation answers questions within sessions.
type Conversation interface {
	Converse(ctx context.Context, sessionID, question string) (*rag.Answer, string, error)
}

// Counter reports the number of indexed chunks.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Status describes what the server was started with.
type Status struct {
	LLMConfigured        bool
	EmbeddingsConfigured bool
	Model                string
}

// Handler serves the question, session and health endpoints.
type Handler struct {
	conv     Conversation
	sessions chatService.Store
	index    Counter
	status   Status
}

// New 创建问答处理器。conv 与 index 可以为 nil，此时问答接口返回 503。
func New(conv Conversation, sessions chatService.Store, index Counter, status Status) *Handler {
	return &Handler{conv: conv, sessions: sessions, index: index, status: status}
}

// RegisterRoutes 注册问答相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/ask", h.handleAsk)
	r.Get("/health", h.handleHealth)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
}

type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

type askResponse struct {
	Answer    string                    `json:"answer"`
	Sources   []document.SourceCitation `json:"sources"`
	Question  string                    `json:"question"`
	SessionID string                    `json:"session_id"`
}

func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var payload askRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Question) == "" {
		utils.RespondError(w, http.StatusBadRequest, "question is required")
		return
	}
	if h.conv == nil {
		status, msg := StatusFor(ErrNotLoaded)
		utils.RespondError(w, status, msg)
		return
	}

	ans, sessionID, err := h.conv.Converse(r.Context(), payload.SessionID, payload.Question)
	if err != nil {
		logger.Warnf("[ask] session=%s failed: %v", sessionID, err)
		status, msg := StatusFor(err)
		utils.RespondError(w, status, msg)
		return
	}

	sources := ans.Sources
	if sources == nil {
		sources = []document.SourceCitation{}
	}
	utils.RespondJSON(w, http.StatusOK, askResponse{
		Answer:    ans.Answer,
		Sources:   sources,
		Question:  ans.Question,
		SessionID: sessionID,
	})
}

type healthResponse struct {
	Status               string `json:"status"`
	RAGSystemLoaded      bool   `json:"rag_system_loaded"`
	LLMConfigured        bool   `json:"llm_configured"`
	EmbeddingsConfigured bool   `json:"embeddings_configured"`
	Model                string `json:"model"`
	IndexedChunks        int    `json:"indexed_chunks"`
	ActiveSessions       int    `json:"active_sessions"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:               "healthy",
		RAGSystemLoaded:      h.conv != nil,
		LLMConfigured:        h.status.LLMConfigured,
		EmbeddingsConfigured: h.status.EmbeddingsConfigured,
		Model:                h.status.Model,
	}

	if h.index != nil {
		n, err := h.index.Count(r.Context())
		if err != nil {
			logger.Warnf("[health] count index failed: %v", err)
			resp.Status = "degraded"
		}
		resp.IndexedChunks = n
	}
	if h.sessions != nil {
		n, err := h.sessions.Len(r.Context())
		if err != nil {
			logger.Warnf("[health] count sessions failed: %v", err)
			resp.Status = "degraded"
		}
		resp.ActiveSessions = n
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if h.sessions == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}

	history, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		logger.Warnf("[sessions] get %s failed: %v", sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if history == nil {
		history = []chat.Message{}
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   history,
	})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if h.sessions == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}

	if err := h.sessions.Delete(r.Context(), sessionID); err != nil {
		logger.Warnf("[sessions] delete %s failed: %v", sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
