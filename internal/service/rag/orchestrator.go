// Package rag answers questions about the indexed publications, optionally in
// the context of an ongoing conversation.
package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/freibot/backend/internal/analysis/citation"
	"github.com/zhouzirui/freibot/backend/internal/analysis/history"
	"github.com/zhouzirui/freibot/backend/internal/model/chat"
	"github.com/zhouzirui/freibot/backend/internal/model/document"
	"github.com/zhouzirui/freibot/backend/internal/service/ai"
	"github.com/zhouzirui/freibot/backend/pkg/logger"
)

var (
	// ErrCollaboratorUnavailable wraps failures of the index or the language model.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	// ErrEmptyIndex means no publications have been ingested yet.
	ErrEmptyIndex = errors.New("no documents indexed")
	// ErrMalformedInput is returned for empty questions.
	ErrMalformedInput = errors.New("malformed input")
)

// Searcher finds chunks similar to a query.
type Searcher interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]document.Chunk, error)
	Count(ctx context.Context) (int, error)
}

// Generator produces an answer for a complete prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Streamer is implemented by generators that can stream their answer.
type Streamer interface {
	Stream(ctx context.Context, prompt string) (*schema.StreamReader[*schema.Message], error)
	StreamingEnabled() bool
}

// Answer is the result of one question.
type Answer struct {
	Answer     string                    `json:"answer"`
	Sources    []document.SourceCitation `json:"sources"`
	Question   string                    `json:"question"`
	ChunksUsed int                       `json:"chunks_used"`
	RetrievalK int                       `json:"retrieval_k"`
}

// Orchestrator ties retrieval, prompt assembly and generation together.
type Orchestrator struct {
	searcher  Searcher
	generator Generator
	optimizer *history.Optimizer
}

// New creates an orchestrator. A nil optimizer uses the defaults.
func New(searcher Searcher, generator Generator, optimizer *history.Optimizer) *Orchestrator {
	if optimizer == nil {
		optimizer = history.NewOptimizer()
	}
	return &Orchestrator{searcher: searcher, generator: generator, optimizer: optimizer}
}

// Optimizer exposes the history optimizer used for prompts.
func (o *Orchestrator) Optimizer() *history.Optimizer {
	return o.optimizer
}

type preparedPrompt struct {
	prompt string
	chunks []document.Chunk
	k      int
}

// Ask answers question. history is the session transcript; when its last
// entry is not already the pending question, the question is appended.
func (o *Orchestrator) Ask(ctx context.Context, question string, transcript []chat.Message) (ans *Answer, err error) {
	defer recoverCollaborator(&err)

	prep, err := o.prepare(ctx, question, transcript)
	if err != nil {
		return nil, err
	}

	text, err := o.generator.Generate(ctx, prep.prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: generate answer: %v", ErrCollaboratorUnavailable, err)
	}
	return o.answer(question, text, prep), nil
}

// AskStream is Ask with incremental output. emit receives each text delta as
// it arrives. Generators that cannot stream are called once and the whole
// answer is emitted as a single delta.
func (o *Orchestrator) AskStream(ctx context.Context, question string, transcript []chat.Message, emit func(delta string) error) (ans *Answer, err error) {
	defer recoverCollaborator(&err)

	prep, err := o.prepare(ctx, question, transcript)
	if err != nil {
		return nil, err
	}

	streamer, ok := o.generator.(Streamer)
	if !ok || !streamer.StreamingEnabled() {
		text, err := o.generator.Generate(ctx, prep.prompt)
		if err != nil {
			return nil, fmt.Errorf("%w: generate answer: %v", ErrCollaboratorUnavailable, err)
		}
		if err := emit(text); err != nil {
			return nil, err
		}
		return o.answer(question, text, prep), nil
	}

	stream, err := streamer.Stream(ctx, prep.prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: stream answer: %v", ErrCollaboratorUnavailable, err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: receive stream: %v", ErrCollaboratorUnavailable, err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		sb.WriteString(chunk.Content)
		if err := emit(chunk.Content); err != nil {
			return nil, err
		}
	}
	return o.answer(question, sb.String(), prep), nil
}

func (o *Orchestrator) prepare(ctx context.Context, question string, transcript []chat.Message) (preparedPrompt, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return preparedPrompt{}, fmt.Errorf("%w: question is empty", ErrMalformedInput)
	}

	full := withPendingQuestion(transcript, question)
	k := history.AdaptiveRetrievalCount(len(full))

	chunks, err := o.searcher.SimilaritySearch(ctx, question, k)
	if err != nil {
		return preparedPrompt{}, fmt.Errorf("%w: similarity search: %v", ErrCollaboratorUnavailable, err)
	}
	if len(chunks) == 0 {
		n, err := o.searcher.Count(ctx)
		if err != nil {
			return preparedPrompt{}, fmt.Errorf("%w: count index: %v", ErrCollaboratorUnavailable, err)
		}
		if n == 0 {
			return preparedPrompt{}, ErrEmptyIndex
		}
	}

	prior := o.optimizer.Optimize(full[:len(full)-1])
	block := history.RenderHistoryBlock(append(prior, full[len(full)-1]))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	logger.Debugf("[rag] retrieval k=%d, chunks=%d, history_turns=%d", k, len(chunks), len(prior))
	return preparedPrompt{
		prompt: ai.NewAnswerPrompt(block, texts, question).Build(),
		chunks: chunks,
		k:      k,
	}, nil
}

func (o *Orchestrator) answer(question, text string, prep preparedPrompt) *Answer {
	return &Answer{
		Answer:     text,
		Sources:    citation.Extract(prep.chunks),
		Question:   question,
		ChunksUsed: len(prep.chunks),
		RetrievalK: prep.k,
	}
}

// withPendingQuestion returns a copy of transcript ending in the user
// question.
func withPendingQuestion(transcript []chat.Message, question string) []chat.Message {
	full := make([]chat.Message, 0, len(transcript)+1)
	full = append(full, transcript...)
	if n := len(full); n > 0 && full[n-1].Role == chat.RoleUser && strings.TrimSpace(full[n-1].Content) == question {
		return full
	}
	return append(full, chat.UserMessage(question))
}

func recoverCollaborator(err *error) {
	if r := recover(); r != nil {
		logger.Errorf("[rag] recovered panic in collaborator: %v", r)
		*err = fmt.Errorf("%w: %v", ErrCollaboratorUnavailable, r)
	}
}
