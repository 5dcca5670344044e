package chat

import (
	"context"
	"errors"

	"github.com/zhouzirui/freibot/backend/internal/model/chat"
)

var (
	ErrSessionIDRequired = errors.New("session id is required")
	ErrConflict          = errors.New("session was modified concurrently")
)

// UpdateFunc receives a copy of the current history and returns the new one.
type UpdateFunc func(history []chat.Message) []chat.Message

// Store maps session ids to ordered message histories. Unknown ids read as an
// empty history; a session comes into existence on its first write.
type Store interface {
	Get(ctx context.Context, sessionID string) ([]chat.Message, error)
	Append(ctx context.Context, sessionID string, messages ...chat.Message) error
	Replace(ctx context.Context, sessionID string, messages []chat.Message) error
	// Update applies fn as a single atomic read-modify-write on one session.
	Update(ctx context.Context, sessionID string, fn UpdateFunc) error
	Delete(ctx context.Context, sessionID string) error
	Len(ctx context.Context) (int, error)
}
