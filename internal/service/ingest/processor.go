// Package ingest turns a directory of publication PDFs into embedded chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	einodoc "github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/schema"
	"github.com/panjf2000/ants/v2"

	"github.com/zhouzirui/freibot/backend/internal/model/document"
	"github.com/zhouzirui/freibot/backend/internal/service/knowledge"
	"github.com/zhouzirui/freibot/backend/pkg/logger"
)

const DefaultBatchSize = 50

// ErrNoDocuments is returned when a directory yields no chunks at all.
var ErrNoDocuments = errors.New("no documents were processed successfully")

// Stats summarises one ingestion run.
type Stats struct {
	Files       int
	FailedFiles []string
	Pages       int
	Chunks      int
}

// Processor loads, splits, embeds and stores PDFs.
type Processor struct {
	loader    einodoc.Loader
	splitter  einodoc.Transformer
	embedder  embedding.Embedder
	store     knowledge.VectorStore
	workers   int
	batchSize int
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets how many files are parsed concurrently.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithBatchSize sets how many chunks go into one embedding request.
func WithBatchSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithLoader replaces the PDF loader.
func WithLoader(l einodoc.Loader) ProcessorOption {
	return func(p *Processor) { p.loader = l }
}

// NewProcessor builds a processor around splitter, embedder and store.
func NewProcessor(splitter einodoc.Transformer, embedder embedding.Embedder, store knowledge.VectorStore, opts ...ProcessorOption) *Processor {
	p := &Processor{
		loader:    NewPDFLoader(),
		splitter:  splitter,
		embedder:  embedder,
		store:     store,
		workers:   4,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type fileResult struct {
	pages  int
	chunks []*schema.Document
	err    error
}

// ProcessDir ingests every *.pdf in dir. Files that fail to parse are logged
// and skipped; the run only fails when nothing could be ingested or the
// embedding/storage step fails.
func (p *Processor) ProcessDir(ctx context.Context, dir string) (Stats, error) {
	files, err := listPDFs(dir)
	if err != nil {
		return Stats{}, err
	}
	logger.Infof("[ingest] found %d PDF files to process in %s", len(files), dir)
	if len(files) == 0 {
		return Stats{}, ErrNoDocuments
	}

	results, err := p.loadAll(ctx, files)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Files: len(files)}
	var chunks []*schema.Document
	for i, res := range results {
		name := filepath.Base(files[i])
		if res.err != nil {
			logger.Errorf("[ingest] error processing %s: %v", name, res.err)
			stats.FailedFiles = append(stats.FailedFiles, name)
			continue
		}
		logger.Infof("[ingest] created %d chunks from %s", len(res.chunks), name)
		stats.Pages += res.pages
		chunks = append(chunks, res.chunks...)
	}
	if len(chunks) == 0 {
		return stats, ErrNoDocuments
	}

	if err := p.storeChunks(ctx, chunks); err != nil {
		return stats, err
	}
	stats.Chunks = len(chunks)
	logger.Infof("[ingest] vector store updated with %d chunks", stats.Chunks)
	return stats, nil
}

func (p *Processor) loadAll(ctx context.Context, files []string) ([]fileResult, error) {
	pool, err := ants.NewPool(p.workers)
	if err != nil {
		return nil, fmt.Errorf("create ingest pool: %w", err)
	}
	defer pool.Release()

	results := make([]fileResult, len(files))
	var wg sync.WaitGroup
	for i, path := range files {
		wg.Add(1)
		i, path := i, path
		if err := pool.Submit(func() {
			defer wg.Done()
			results[i] = p.processFile(ctx, path)
		}); err != nil {
			wg.Done()
			results[i] = fileResult{err: err}
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Processor) processFile(ctx context.Context, path string) (res fileResult) {
	defer func() {
		if r := recover(); r != nil {
			res = fileResult{err: fmt.Errorf("panic while parsing: %v", r)}
		}
	}()

	pages, err := p.loader.Load(ctx, einodoc.Source{URI: path})
	if err != nil {
		return fileResult{err: err}
	}
	chunks, err := p.splitter.Transform(ctx, pages)
	if err != nil {
		return fileResult{err: err}
	}
	return fileResult{pages: len(pages), chunks: chunks}
}

func (p *Processor) storeChunks(ctx context.Context, docs []*schema.Document) error {
	batches := (len(docs) + p.batchSize - 1) / p.batchSize
	for b := 0; b < batches; b++ {
		start := b * p.batchSize
		end := min(start+p.batchSize, len(docs))
		batch := docs[start:end]
		logger.Infof("[ingest] processing batch %d/%d (%d documents)", b+1, batches, len(batch))

		texts := make([]string, len(batch))
		chunks := make([]document.Chunk, len(batch))
		for i, doc := range batch {
			texts[i] = doc.Content
			chunks[i] = document.FromSchema(doc)
		}

		vectors, err := p.embedder.EmbedStrings(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch %d: %w", b+1, err)
		}
		if err := p.store.Add(ctx, chunks, vectors); err != nil {
			return fmt.Errorf("store batch %d: %w", b+1, err)
		}
	}
	return nil
}

func listPDFs(dir string) ([]string, error) {
	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return nil, fmt.Errorf("list pdf dir: %w", err)
	}
	var files []string
	for _, path := range entries {
		if strings.EqualFold(filepath.Ext(path), ".pdf") {
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files, nil
}
