// Package embedding turns text into vectors through an OpenAI-compatible API.
package embedding

import (
	"context"
	"errors"
	"fmt"

	einoembedding "github.com/cloudwego/eino/components/embedding"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/zhouzirui/freibot/backend/internal/config"
	"github.com/zhouzirui/freibot/backend/pkg/logger"
)

const DefaultModel = "text-embedding-ada-002"

var _ einoembedding.Embedder = (*OpenAI)(nil)

// ErrEmptyInput is returned when there is nothing to embed.
var ErrEmptyInput = errors.New("embedding input is empty")

// OpenAI implements the eino Embedder on top of the OpenAI embeddings endpoint.
type OpenAI struct {
	client         openai.Client
	model          string
	requestOptions []option.RequestOption
}

// Option configures the embedder.
type Option func(*OpenAI)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(e *OpenAI) {
		if model != "" {
			e.model = model
		}
	}
}

// WithRequestOptions appends raw openai-go request options, e.g. a custom
// HTTP client in tests.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(e *OpenAI) {
		e.requestOptions = append(e.requestOptions, opts...)
	}
}

// NewOpenAI builds an embedder from configuration.
func NewOpenAI(cfg config.EmbeddingConfig, opts ...Option) *OpenAI {
	e := &OpenAI{model: DefaultModel}
	if cfg.Model != "" {
		e.model = cfg.Model
	}
	for _, opt := range opts {
		opt(e)
	}

	var clientOpts []option.RequestOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, e.requestOptions...)
	e.client = openai.NewClient(clientOpts...)

	return e
}

// EmbedStrings embeds texts in a single request. Vectors are returned in
// input order.
func (e *OpenAI) EmbedStrings(ctx context.Context, texts []string, opts ...einoembedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	model := e.model
	if common := einoembedding.GetCommonOptions(&einoembedding.Options{Model: &model}, opts...); common.Model != nil && *common.Model != "" {
		model = *common.Model
	}

	input := openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts}
	if len(texts) == 1 {
		input = openai.EmbeddingNewParamsInputUnion{OfString: openai.String(texts[0])}
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:          input,
		Model:          openai.EmbeddingModel(model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(resp.Data))
	}

	vectors := make([][]float64, len(texts))
	for _, item := range resp.Data {
		idx := int(item.Index)
		if idx < 0 || idx >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", idx)
		}
		vectors[idx] = item.Embedding
	}

	logger.Debugf("[embedding] embedded %d texts with model=%s tokens=%d", len(texts), model, resp.Usage.TotalTokens)
	return vectors, nil
}
