// Package app assembles the services shared by the API server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhouzirui/freibot/backend/internal/analysis/history"
	"github.com/zhouzirui/freibot/backend/internal/config"
	"github.com/zhouzirui/freibot/backend/internal/handler/ask"
	"github.com/zhouzirui/freibot/backend/internal/service/ai"
	"github.com/zhouzirui/freibot/backend/internal/service/chat"
	"github.com/zhouzirui/freibot/backend/internal/service/embedding"
	"github.com/zhouzirui/freibot/backend/internal/service/ingest"
	"github.com/zhouzirui/freibot/backend/internal/service/knowledge"
	"github.com/zhouzirui/freibot/backend/internal/service/rag"
	"github.com/zhouzirui/freibot/backend/internal/service/scraper"
	"github.com/zhouzirui/freibot/backend/pkg/logger"
)

// App holds the wired services. Conversation is nil when either the
// embedding provider or the language model is not configured.
type App struct {
	cfg *config.Config

	Sessions     chat.Store
	Vectors      knowledge.VectorStore
	Embedder     *embedding.OpenAI
	Retriever    *knowledge.Retriever
	AI           *ai.Service
	Optimizer    *history.Optimizer
	Conversation *rag.Conversation

	closers []func() error
}

// New wires the services described by cfg. Missing credentials disable the
// affected services instead of failing.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	estimator, err := history.EstimatorByName(cfg.Context.Tokenizer, cfg.Context.TokenizerModel)
	if err != nil {
		return nil, fmt.Errorf("token estimator: %w", err)
	}
	a.Optimizer = history.NewOptimizer(
		history.WithTokenBudget(cfg.Context.HistoryTokenBudget),
		history.WithEstimator(estimator),
	)

	if err := a.initSessions(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initVectors(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Embedding.Enabled() {
		a.Embedder = embedding.NewOpenAI(cfg.Embedding)
		a.Retriever = knowledge.NewRetriever(a.Embedder, a.Vectors)
	} else {
		logger.Warnf("[app] OPENAI_API_KEY not set, retrieval disabled")
	}

	if cfg.AI.Enabled() {
		a.AI, err = ai.NewService(ctx, cfg.AI)
		if err != nil {
			logger.Warnf("[app] failed to initialize AI service: %v", err)
			a.AI = nil
		} else {
			logger.Infof("[app] AI service initialized, model=%s", cfg.AI.Model)
		}
	} else {
		logger.Warnf("[app] Ark 凭证未配置，跳过 AI 功能初始化")
	}

	if a.Retriever != nil && a.AI != nil {
		a.Conversation = rag.NewConversation(rag.New(a.Retriever, a.AI, a.Optimizer), a.Sessions)
		logger.Infof("[app] RAG system loaded")
	}
	return a, nil
}

func (a *App) initSessions(ctx context.Context) error {
	cfg := a.cfg.Session
	switch cfg.Backend {
	case "redis":
		store, err := chat.NewRedisStoreFromURL(ctx, cfg.RedisURL,
			chat.WithKeyPrefix(cfg.KeyPrefix),
			chat.WithRedisTTL(cfg.TTL),
		)
		if err != nil {
			return fmt.Errorf("session store: %w", err)
		}
		a.Sessions = store
		a.closers = append(a.closers, store.Close)
	default:
		store := chat.NewMemoryStore(chat.WithTTL(cfg.TTL), chat.WithMaxSessions(cfg.MaxSessions))
		store.StartJanitor(ctx, cfg.CleanupInterval)
		a.Sessions = store
		a.closers = append(a.closers, func() error {
			store.StopJanitor()
			return nil
		})
	}
	logger.Infof("[app] session store backend=%s", a.sessionBackend())
	return nil
}

func (a *App) sessionBackend() string {
	if a.cfg.Session.Backend == "" {
		return "memory"
	}
	return a.cfg.Session.Backend
}

func (a *App) initVectors(ctx context.Context) error {
	cfg := a.cfg.VectorStore
	switch cfg.Backend {
	case "pgvector":
		store, err := knowledge.NewPGVectorStore(ctx, cfg.PostgresDSN, cfg.Table, cfg.Dimensions)
		if err != nil {
			return fmt.Errorf("vector store: %w", err)
		}
		a.Vectors = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	default:
		store, err := knowledge.LoadMemoryVectorStore(cfg.Path)
		if err != nil {
			return fmt.Errorf("vector store: %w", err)
		}
		a.Vectors = store
	}
	return nil
}

// Status summarises configuration for the health endpoint.
func (a *App) Status() ask.Status {
	return ask.Status{
		LLMConfigured:        a.AI != nil,
		EmbeddingsConfigured: a.Embedder != nil,
		Model:                a.cfg.AI.Model,
	}
}

// Download fetches new publications into the configured PDF directory.
func (a *App) Download(ctx context.Context, dir string) (scraper.Result, error) {
	if dir == "" {
		dir = a.cfg.Ingest.PDFDir
	}
	return scraper.NewDownloader(a.cfg.Scraper, dir).DownloadAll(ctx)
}

// ErrEmbeddingsDisabled is returned by Ingest without an embedding provider.
var ErrEmbeddingsDisabled = errors.New("embeddings not configured")

// Ingest rebuilds the index from the PDFs in dir and persists it.
func (a *App) Ingest(ctx context.Context, dir string) (ingest.Stats, error) {
	if a.Embedder == nil {
		return ingest.Stats{}, ErrEmbeddingsDisabled
	}
	if dir == "" {
		dir = a.cfg.Ingest.PDFDir
	}

	splitter, err := ingest.NewSplitter(a.cfg.Ingest.ChunkSize, a.cfg.Ingest.ChunkOverlap)
	if err != nil {
		return ingest.Stats{}, err
	}
	if err := a.Vectors.Reset(ctx); err != nil {
		return ingest.Stats{}, fmt.Errorf("reset index: %w", err)
	}

	processor := ingest.NewProcessor(splitter, a.Embedder, a.Vectors,
		ingest.WithWorkers(a.cfg.Ingest.Workers),
		ingest.WithBatchSize(a.cfg.Embedding.BatchSize),
	)
	stats, err := processor.ProcessDir(ctx, dir)
	if err != nil {
		return stats, err
	}

	if mem, ok := a.Vectors.(*knowledge.MemoryVectorStore); ok {
		if err := mem.Save(a.cfg.VectorStore.Path); err != nil {
			return stats, fmt.Errorf("save index: %w", err)
		}
		logger.Infof("[app] index saved to %s", a.cfg.VectorStore.Path)
	}
	return stats, nil
}

// Close releases the store connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warnf("[app] close: %v", err)
		}
	}
	a.closers = nil
}
