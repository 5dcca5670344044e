package ask

import (
	"errors"
	"net/http"

	"github.com/zhouzirui/freibot/backend/internal/service/rag"
)

// ErrNotLoaded is reported when the server started without a working RAG
// system, e.g. because no index or language model is configured.
var ErrNotLoaded = errors.New("rag system not loaded")

// StatusFor maps orchestration errors to an HTTP status and a user facing
// German message.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, rag.ErrMalformedInput):
		return http.StatusBadRequest, "Bitte eine Frage angeben."
	case errors.Is(err, rag.ErrEmptyIndex):
		return http.StatusConflict, "Es sind noch keine Dokumente indexiert. Bitte zuerst die Dokumente verarbeiten."
	case errors.Is(err, ErrNotLoaded):
		return http.StatusServiceUnavailable, "Entschuldigung, das RAG-System ist nicht geladen."
	case errors.Is(err, rag.ErrCollaboratorUnavailable):
		return http.StatusServiceUnavailable, "Entschuldigung, bei der Beantwortung ist ein Fehler aufgetreten."
	default:
		return http.StatusInternalServerError, "Entschuldigung, ein interner Fehler ist aufgetreten."
	}
}
