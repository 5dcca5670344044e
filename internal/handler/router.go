package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/zhouzirui/freibot/backend/internal/handler/ask"
	"github.com/zhouzirui/freibot/backend/internal/handler/stream"
	"github.com/zhouzirui/freibot/backend/internal/handler/ws"
	chatService "github.com/zhouzirui/freibot/backend/internal/service/chat"
	"github.com/zhouzirui/freibot/backend/internal/service/rag"
)

// Dependencies are the services the HTTP front end is built from.
// Conversation is nil when the RAG system could not be initialised.
type Dependencies struct {
	Conversation *rag.Conversation
	Sessions     chatService.Store
	Index        ask.Counter
	Status       ask.Status
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Length", "Content-Type"},
	})
	r.Use(c.Handler)

	// Typed nil pointers must not reach the handlers as non-nil interfaces.
	var (
		askConv    ask.Conversation
		streamConv stream.Conversation
		wsConv     ws.Conversation
	)
	if deps.Conversation != nil {
		askConv, streamConv, wsConv = deps.Conversation, deps.Conversation, deps.Conversation
	}

	ask.New(askConv, deps.Sessions, deps.Index, deps.Status).RegisterRoutes(r)
	stream.New(streamConv).RegisterRoutes(r)
	ws.NewWebSocketHandler(wsConv).RegisterRoutes(r)

	// Same endpoints under /api for frontends that proxy a prefix.
	r.Route("/api", func(api chi.Router) {
		ask.New(askConv, deps.Sessions, deps.Index, deps.Status).RegisterRoutes(api)
		stream.New(streamConv).RegisterRoutes(api)
	})

	return r
}
