package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/zhouzirui/freibot/backend/internal/model/document"
)

type memoryRecord struct {
	Chunk  document.Chunk `json:"chunk"`
	Vector []float64      `json:"vector"`
}

type memorySnapshot struct {
	Dimensions int            `json:"dimensions"`
	Records    []memoryRecord `json:"records"`
}

// MemoryVectorStore scans every stored vector on each query. The corpus is a
// few thousand chunks, so a linear cosine scan is fast enough.
type MemoryVectorStore struct {
	mu         sync.RWMutex
	records    []memoryRecord
	index      map[string]int
	dimensions int
}

// NewMemoryVectorStore returns an empty store.
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{index: make(map[string]int)}
}

// LoadMemoryVectorStore reads a snapshot written by Save. A missing file
// yields an empty store.
func LoadMemoryVectorStore(path string) (*MemoryVectorStore, error) {
	s := NewMemoryVectorStore()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vector snapshot: %w", err)
	}

	var snap memorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode vector snapshot: %w", err)
	}
	s.dimensions = snap.Dimensions
	for _, rec := range snap.Records {
		s.index[rec.Chunk.ID] = len(s.records)
		s.records = append(s.records, rec)
	}
	return s, nil
}

// Save writes the store to path atomically.
func (s *MemoryVectorStore) Save(path string) error {
	s.mu.RLock()
	snap := memorySnapshot{Dimensions: s.dimensions, Records: s.records}
	data, err := json.Marshal(snap)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode vector snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write vector snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit vector snapshot: %w", err)
	}
	return nil
}

func (s *MemoryVectorStore) Add(_ context.Context, chunks []document.Chunk, vectors [][]float64) error {
	if len(chunks) != len(vectors) {
		return ErrLengthMismatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, chunk := range chunks {
		vec := vectors[i]
		if s.dimensions == 0 {
			s.dimensions = len(vec)
		}
		if len(vec) != s.dimensions {
			return fmt.Errorf("%w: expected %d, got %d for chunk %s", ErrDimensionMismatch, s.dimensions, len(vec), chunk.ID)
		}
		chunk.Score = 0
		rec := memoryRecord{Chunk: chunk, Vector: append([]float64(nil), vec...)}
		if pos, ok := s.index[chunk.ID]; ok && chunk.ID != "" {
			s.records[pos] = rec
			continue
		}
		if chunk.ID != "" {
			s.index[chunk.ID] = len(s.records)
		}
		s.records = append(s.records, rec)
	}
	return nil
}

func (s *MemoryVectorStore) Search(_ context.Context, vector []float64, k int) ([]document.Chunk, error) {
	if k <= 0 {
		return []document.Chunk{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return []document.Chunk{}, nil
	}
	if len(vector) != s.dimensions {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dimensions, len(vector))
	}

	scored := make([]document.Chunk, len(s.records))
	for i, rec := range s.records {
		chunk := rec.Chunk
		chunk.Score = cosine(vector, rec.Vector)
		scored[i] = chunk
	}
	// Stable so equal scores keep insertion order.
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (s *MemoryVectorStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *MemoryVectorStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.index = make(map[string]int)
	s.dimensions = 0
	return nil
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
