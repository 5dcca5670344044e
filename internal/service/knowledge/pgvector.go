package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/zhouzirui/freibot/backend/internal/model/document"
)

const (
	sqlCreateExtension = `CREATE EXTENSION IF NOT EXISTS vector`

	sqlCreateTable = `
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`

	sqlCreateIndex = `
		CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`

	sqlUpsertChunk = `
		INSERT INTO %s (id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`

	sqlSearch = `
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`

	sqlCount    = `SELECT count(*) FROM %s`
	sqlTruncate = `TRUNCATE TABLE %s`
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PGVectorStore keeps chunks in PostgreSQL using the pgvector extension and
// an HNSW cosine index.
type PGVectorStore struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int
}

// NewPGVectorStore connects to dsn and makes sure the table and index exist.
func NewPGVectorStore(ctx context.Context, dsn, table string, dimensions int) (*PGVectorStore, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid pgvector table name %q", table)
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid pgvector dimensions %d", dimensions)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}

	s := &PGVectorStore{pool: pool, table: table, dimensions: dimensions}
	if err := s.initDB(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGVectorStore) initDB(ctx context.Context) error {
	statements := []string{
		sqlCreateExtension,
		fmt.Sprintf(sqlCreateTable, s.table, s.dimensions),
		fmt.Sprintf(sqlCreateIndex, s.table, s.table),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector init: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *PGVectorStore) Close() {
	s.pool.Close()
}

func (s *PGVectorStore) Add(ctx context.Context, chunks []document.Chunk, vectors [][]float64) error {
	if len(chunks) != len(vectors) {
		return ErrLengthMismatch
	}

	upsertSQL := fmt.Sprintf(sqlUpsertChunk, s.table)
	batch := &pgx.Batch{}
	for i, chunk := range chunks {
		if chunk.ID == "" {
			return fmt.Errorf("pgvector chunk id is required")
		}
		if len(vectors[i]) != s.dimensions {
			return fmt.Errorf("%w: expected %d, got %d for chunk %s", ErrDimensionMismatch, s.dimensions, len(vectors[i]), chunk.ID)
		}
		meta, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("pgvector encode metadata: %w", err)
		}
		batch.Queue(upsertSQL, chunk.ID, chunk.Text, pgvector.NewVector(toFloat32(vectors[i])), string(meta))
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("pgvector insert chunks: %w", err)
	}
	return nil
}

func (s *PGVectorStore) Search(ctx context.Context, vector []float64, k int) ([]document.Chunk, error) {
	if k <= 0 {
		return []document.Chunk{}, nil
	}
	if len(vector) != s.dimensions {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dimensions, len(vector))
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(sqlSearch, s.table), pgvector.NewVector(toFloat32(vector)), k)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	results := make([]document.Chunk, 0, k)
	for rows.Next() {
		var (
			chunk    document.Chunk
			metaJSON []byte
		)
		if err := rows.Scan(&chunk.ID, &chunk.Text, &metaJSON, &chunk.Score); err != nil {
			return nil, fmt.Errorf("pgvector scan chunk: %w", err)
		}
		if err := json.Unmarshal(metaJSON, &chunk.Metadata); err != nil {
			return nil, fmt.Errorf("pgvector decode metadata: %w", err)
		}
		results = append(results, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector iterate rows: %w", err)
	}
	return results, nil
}

func (s *PGVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(sqlCount, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgvector count: %w", err)
	}
	return n, nil
}

func (s *PGVectorStore) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(sqlTruncate, s.table)); err != nil {
		return fmt.Errorf("pgvector reset: %w", err)
	}
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
