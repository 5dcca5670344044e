package ask

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/freibot/backend/internal/model/chat"
	"github.com/zhouzirui/freibot/backend/internal/model/document"
	chatService "github.com/zhouzirui/freibot/backend/internal/service/chat"
	"github.com/zhouzirui/freibot/backend/internal/service/rag"
)

type stubConversation struct {
	err         error
	gotSession  string
	gotQuestion string
}

func (s *stubConversation) Converse(_ context.Context, sessionID, question string) (*rag.Answer, string, error) {
	s.gotSession, s.gotQuestion = sessionID, question
	if sessionID == "" {
		sessionID = "generated"
	}
	if s.err != nil {
		return nil, sessionID, s.err
	}
	return &rag.Answer{
		Answer:   "Etwa 230.000.",
		Question: question,
		Sources: []document.SourceCitation{
			{Title: "Statistisches Jahrbuch", DocumentType: "Jahrbuch", Year: "2023", Page: "12", Filename: "Jahrbuch_2023.pdf"},
		},
	}, sessionID, nil
}

type stubCounter int

func (c stubCounter) Count(context.Context) (int, error) { return int(c), nil }

func setupRouter(conv Conversation, sessions chatService.Store) *chi.Mux {
	handler := New(conv, sessions, stubCounter(42), Status{LLMConfigured: true, EmbeddingsConfigured: true, Model: "doubao"})
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func postAsk(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestAskReturnsAnswerAndSources(t *testing.T) {
	conv := &stubConversation{}
	r := setupRouter(conv, chatService.NewMemoryStore())

	resp := postAsk(r, `{"question":"Wie viele Einwohner?","session_id":"s1"}`)
	require.Equal(t, http.StatusOK, resp.Code)

	var body askResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "Etwa 230.000.", body.Answer)
	assert.Equal(t, "s1", body.SessionID)
	assert.Equal(t, "Wie viele Einwohner?", body.Question)
	require.Len(t, body.Sources, 1)
	assert.Equal(t, "12", body.Sources[0].Page)
	assert.Equal(t, "s1", conv.gotSession)
}

func TestAskAssignsSessionID(t *testing.T) {
	r := setupRouter(&stubConversation{}, chatService.NewMemoryStore())
	resp := postAsk(r, `{"question":"Hallo?"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"session_id":"generated"`)
}

func TestAskValidation(t *testing.T) {
	r := setupRouter(&stubConversation{}, chatService.NewMemoryStore())

	if resp := postAsk(r, `not json`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if resp := postAsk(r, `{"question":"  "}`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestAskStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: model down", rag.ErrCollaboratorUnavailable), http.StatusServiceUnavailable},
		{rag.ErrEmptyIndex, http.StatusConflict},
		{rag.ErrMalformedInput, http.StatusBadRequest},
		{errors.New("weird"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		r := setupRouter(&stubConversation{err: tc.err}, chatService.NewMemoryStore())
		resp := postAsk(r, `{"question":"Frage"}`)
		assert.Equal(t, tc.want, resp.Code, "error %v", tc.err)
		assert.Contains(t, resp.Body.String(), `"error"`)
	}
}

func TestAskWithoutRAGSystem(t *testing.T) {
	r := setupRouter(nil, chatService.NewMemoryStore())
	resp := postAsk(r, `{"question":"Frage"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestHealth(t *testing.T) {
	sessions := chatService.NewMemoryStore()
	require.NoError(t, sessions.Append(context.Background(), "a", chat.UserMessage("x")))
	r := setupRouter(&stubConversation{}, sessions)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, healthResponse{
		Status:               "healthy",
		RAGSystemLoaded:      true,
		LLMConfigured:        true,
		EmbeddingsConfigured: true,
		Model:                "doubao",
		IndexedChunks:        42,
		ActiveSessions:       1,
	}, body)
}

func TestSessionEndpoints(t *testing.T) {
	ctx := context.Background()
	sessions := chatService.NewMemoryStore()
	require.NoError(t, sessions.Append(ctx, "s1", chat.UserMessage("Frage"), chat.AssistantMessage("Antwort")))
	r := setupRouter(&stubConversation{}, sessions)

	req := httptest.NewRequest(http.MethodGet, "/sessions/s1", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		SessionID string         `json:"session_id"`
		Messages  []chat.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "s1", body.SessionID)
	assert.Len(t, body.Messages, 2)

	req = httptest.NewRequest(http.MethodDelete, "/sessions/s1", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusNoContent, resp.Code)

	history, err := sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, history)

	req = httptest.NewRequest(http.MethodGet, "/sessions/unknown", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"messages":[]`)
}
