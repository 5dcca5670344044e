package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/zhouzirui/freibot/backend/internal/model/chat"
	chatstore "github.com/zhouzirui/freibot/backend/internal/service/chat"
	"github.com/zhouzirui/freibot/backend/pkg/logger"
)

// Conversation answers questions within a session and keeps its history.
type Conversation struct {
	rag   *Orchestrator
	store chatstore.Store
}

// NewConversation binds an orchestrator to a session store.
func NewConversation(rag *Orchestrator, store chatstore.Store) *Conversation {
	return &Conversation{rag: rag, store: store}
}

// Store returns the underlying session store.
func (c *Conversation) Store() chatstore.Store {
	return c.store
}

// Converse answers question in the session sessionID. An empty id starts a
// new session; the id actually used is returned. The question and answer are
// only recorded when generation succeeds.
func (c *Conversation) Converse(ctx context.Context, sessionID, question string) (*Answer, string, error) {
	sessionID, current, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, sessionID, err
	}

	ans, err := c.rag.Ask(ctx, question, current)
	if err != nil {
		return nil, sessionID, err
	}
	return ans, sessionID, c.record(ctx, sessionID, ans)
}

// ConverseStream is Converse with incremental output through emit.
func (c *Conversation) ConverseStream(ctx context.Context, sessionID, question string, emit func(delta string) error) (*Answer, string, error) {
	sessionID, current, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, sessionID, err
	}

	ans, err := c.rag.AskStream(ctx, question, current, emit)
	if err != nil {
		return nil, sessionID, err
	}
	return ans, sessionID, c.record(ctx, sessionID, ans)
}

func (c *Conversation) load(ctx context.Context, sessionID string) (string, []chat.Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
		logger.Debugf("[conversation] new session %s", sessionID)
	}

	current, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return sessionID, nil, fmt.Errorf("%w: load session: %v", ErrCollaboratorUnavailable, err)
	}
	return sessionID, current, nil
}

// record appends the exchange and keeps the stored history within the
// optimizer's window.
func (c *Conversation) record(ctx context.Context, sessionID string, ans *Answer) error {
	optimizer := c.rag.Optimizer()
	err := c.store.Update(ctx, sessionID, func(history []chat.Message) []chat.Message {
		history = append(history, chat.UserMessage(ans.Question), chat.AssistantMessage(ans.Answer))
		return optimizer.Optimize(history)
	})
	if err != nil {
		return fmt.Errorf("%w: save session: %v", ErrCollaboratorUnavailable, err)
	}
	return nil
}
