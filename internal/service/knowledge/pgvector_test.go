package knowledge

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/freibot/backend/internal/model/document"
)

func TestNewPGVectorStoreValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewPGVectorStore(ctx, "postgres://localhost/x", "chunks; DROP TABLE x", 3)
	assert.ErrorContains(t, err, "invalid pgvector table name")

	_, err = NewPGVectorStore(ctx, "postgres://localhost/x", "chunks", 0)
	assert.ErrorContains(t, err, "invalid pgvector dimensions")
}

func TestToFloat32(t *testing.T) {
	assert.Equal(t, []float32{0.5, -1, 2}, toFloat32([]float64{0.5, -1, 2}))
}

// Runs against a real database when PGVECTOR_TEST_DSN is set.
func TestPGVectorStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("PGVECTOR_TEST_DSN")
	if dsn == "" {
		t.Skip("PGVECTOR_TEST_DSN not set")
	}
	ctx := context.Background()

	store, err := NewPGVectorStore(ctx, dsn, "freibot_chunks_test", 3)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Reset(ctx))

	chunks := []document.Chunk{
		{ID: "a#p1#c0", Text: "Einwohner", Metadata: document.Metadata{Filename: "a.pdf", PageNumber: 1, Year: "2020"}},
		{ID: "b#p2#c0", Text: "Wahlen", Metadata: document.Metadata{Filename: "b.pdf", PageNumber: 2, Year: "2021"}},
	}
	require.NoError(t, store.Add(ctx, chunks, [][]float64{{1, 0, 0}, {0, 1, 0}}))
	assert.ErrorIs(t, store.Add(ctx, chunks, [][]float64{{1, 0, 0}}), ErrLengthMismatch)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := store.Search(ctx, []float64{0.9, 0.1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a#p1#c0", hits[0].ID)
	assert.Equal(t, 1, hits[0].Metadata.PageNumber)
	assert.Greater(t, hits[0].Score, 0.9)
}
