package knowledge

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/freibot/backend/internal/model/document"
)

const defaultTopK = 8

var _ retriever.Retriever = (*Retriever)(nil)

// Retriever embeds a query and looks it up in a VectorStore.
type Retriever struct {
	embedder embedding.Embedder
	store    VectorStore
}

// NewRetriever wires an embedder to a vector store.
func NewRetriever(embedder embedding.Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// SimilaritySearch returns the k chunks closest to query.
func (r *Retriever) SimilaritySearch(ctx context.Context, query string, k int) ([]document.Chunk, error) {
	vectors, err := r.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vectors))
	}
	return r.store.Search(ctx, vectors[0], k)
}

// Count reports the number of indexed chunks.
func (r *Retriever) Count(ctx context.Context) (int, error) {
	return r.store.Count(ctx)
}

// Retrieve implements the eino retriever interface. WithTopK and
// WithScoreThreshold are honoured.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := defaultTopK
	options := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)
	if options.TopK != nil {
		topK = *options.TopK
	}

	chunks, err := r.SimilaritySearch(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	docs := make([]*schema.Document, 0, len(chunks))
	for _, chunk := range chunks {
		if options.ScoreThreshold != nil && chunk.Score < *options.ScoreThreshold {
			continue
		}
		docs = append(docs, chunk.ToSchema())
	}
	return docs, nil
}
