// Package knowledge stores embedded publication chunks and answers
// similarity queries over them.
package knowledge

import (
	"context"
	"errors"

	"github.com/zhouzirui/freibot/backend/internal/model/document"
)

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrLengthMismatch    = errors.New("chunks and vectors differ in length")
)

// VectorStore persists chunks alongside their embeddings.
type VectorStore interface {
	// Add upserts chunks by ID. vectors[i] is the embedding of chunks[i].
	Add(ctx context.Context, chunks []document.Chunk, vectors [][]float64) error
	// Search returns up to k chunks ordered by descending similarity.
	Search(ctx context.Context, vector []float64, k int) ([]document.Chunk, error)
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}
