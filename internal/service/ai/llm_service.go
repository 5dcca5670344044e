package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/freibot/backend/internal/config"
	"github.com/zhouzirui/freibot/backend/pkg/logger"
)

// Service sends fully assembled prompts to the chat model.
type Service struct {
	chatModel model.ChatModel
	streaming bool
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates the chat model from configuration and compiles the chain.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg.StreamResponse)
}

// NewServiceWithModel compiles the chain around an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, streaming bool) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.UserMessage("{prompt}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		streaming: streaming,
		chain:     runnable,
	}, nil
}

// StreamingEnabled 指示是否开启流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.streaming
}

// Generate returns the model's answer to prompt.
func (s *Service) Generate(ctx context.Context, prompt string) (string, error) {
	response, err := s.chain.Invoke(ctx, map[string]any{"prompt": prompt})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	logger.Debugf("[ai] generated response, prompt_length=%d, length=%d", len(prompt), len(response.Content))
	return response.Content, nil
}

// Stream streams the model's answer to prompt.
func (s *Service) Stream(ctx context.Context, prompt string) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, fmt.Errorf("streaming disabled in configuration")
	}

	stream, err := s.chain.Stream(ctx, map[string]any{"prompt": prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, nil
}
