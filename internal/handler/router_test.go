package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/freibot/backend/internal/model/document"
	chatService "github.com/zhouzirui/freibot/backend/internal/service/chat"
	"github.com/zhouzirui/freibot/backend/internal/service/knowledge"
	"github.com/zhouzirui/freibot/backend/internal/service/rag"
)

func TestRouterWithoutRAGSystem(t *testing.T) {
	r := NewRouter(Dependencies{Sessions: chatService.NewMemoryStore()})

	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader([]byte(`{"question":"Frage"}`)))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"rag_system_loaded":false`)
}

type constGenerator string

func (g constGenerator) Generate(_ context.Context, _ string) (string, error) { return string(g), nil }

type fixedSearcher struct{}

func (fixedSearcher) SimilaritySearch(context.Context, string, int) ([]document.Chunk, error) {
	return nil, nil
}

func (fixedSearcher) Count(context.Context) (int, error) { return 0, nil }

func TestRouterEndToEndEmptyIndex(t *testing.T) {
	sessions := chatService.NewMemoryStore()
	conv := rag.NewConversation(rag.New(fixedSearcher{}, constGenerator("x"), nil), sessions)
	r := NewRouter(Dependencies{
		Conversation: conv,
		Sessions:     sessions,
		Index:        knowledge.NewMemoryVectorStore(),
	})

	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader([]byte(`{"question":"Frage"}`)))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestRouterCORSPreflight(t *testing.T) {
	r := NewRouter(Dependencies{})
	req := httptest.NewRequest(http.MethodOptions, "/ask", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
}
