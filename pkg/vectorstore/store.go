// Package vectorstore is a flat inner-product index over unit-norm
// vectors with JSON chunk metadata kept row-aligned beside the matrix.
// For normalized vectors inner product equals cosine similarity, so a
// brute-force scan gives exact nearest neighbors.
package vectorstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/liliang-cn/docqa/pkg/domain"
)

type Store struct {
	mu sync.RWMutex

	dimension int
	modelName string
	gpu       bool

	// vectors[i] scores against meta[i]; meta[i].VectorIndex == i is the
	// alignment invariant every mutation must restore.
	vectors [][]float32
	meta    []domain.Chunk

	dir string // persistence directory, empty for memory-only stores
}

type Option func(*Store)

// WithPersistence stores the index under dir and loads any existing
// snapshot at construction.
func WithPersistence(dir string) Option {
	return func(s *Store) { s.dir = dir }
}

// WithGPU only marks the stats flag; scoring is always CPU-side here.
func WithGPU(enabled bool) Option {
	return func(s *Store) { s.gpu = enabled }
}

func New(dimension int, modelName string, opts ...Option) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", domain.ErrInvalidInput)
	}

	s := &Store{
		dimension: dimension,
		modelName: modelName,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.dir != "" {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrVectorStoreFailed, err)
		}
	}
	return s, nil
}

// Add appends chunks with their vectors and persists the result. Each
// chunk's VectorIndex is assigned from its final row position. A persist
// failure rolls the in-memory rows back, so memory and disk never
// disagree.
func (s *Store) Add(chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks but %d vectors", domain.ErrInvalidInput, len(chunks), len(vectors))
	}
	for i, vec := range vectors {
		if len(vec) != s.dimension {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d", domain.ErrInvalidInput, i, len(vec), s.dimension)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := len(s.vectors)
	for i := range chunks {
		chunk := chunks[i]
		chunk.VectorIndex = start + i
		s.meta = append(s.meta, chunk)
		s.vectors = append(s.vectors, vectors[i])
	}

	if err := s.persistLocked(); err != nil {
		s.vectors = s.vectors[:start]
		s.meta = s.meta[:start]
		return err
	}
	return nil
}

// Search returns up to topK hits with score >= threshold, best first.
// Rank is 1-based over the returned (post-filter) results.
func (s *Store) Search(query []float32, topK int, threshold float64) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchLocked(query, topK, threshold, nil)
}

// SearchFiltered restricts the scan to rows belonging to documentIDs.
func (s *Store) SearchFiltered(query []float32, topK int, threshold float64, documentIDs []string) ([]domain.SearchResult, error) {
	if len(documentIDs) == 0 {
		return s.Search(query, topK, threshold)
	}

	allowed := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		allowed[id] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchLocked(query, topK, threshold, allowed)
}

func (s *Store) searchLocked(query []float32, topK int, threshold float64, allowed map[string]bool) ([]domain.SearchResult, error) {
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query dimension %d, want %d", domain.ErrInvalidInput, len(query), s.dimension)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", domain.ErrInvalidInput)
	}

	type scored struct {
		row   int
		score float64
	}

	candidates := make([]scored, 0, len(s.vectors))
	for i, vec := range s.vectors {
		if allowed != nil && !allowed[s.meta[i].DocumentID] {
			continue
		}
		candidates = append(candidates, scored{row: i, score: dot(query, vec)})
	}

	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	results := make([]domain.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		if c.score < threshold {
			continue
		}
		chunk := s.meta[c.row]
		results = append(results, domain.SearchResult{
			Text:       chunk.Text,
			Score:      c.score,
			DocumentID: chunk.DocumentID,
			ChunkID:    chunk.ID,
			ChunkIndex: chunk.Index,
			Rank:       len(results) + 1,
			Metadata:   chunk.Metadata,
		})
	}
	return results, nil
}

// DeleteDocument removes every row for documentID, compacts the matrix,
// and reassigns vector indices contiguously. Returns rows removed. The
// compacted state only replaces the old one once it has been persisted.
func (s *Store) DeleteDocument(documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keptVecs := make([][]float32, 0, len(s.vectors))
	keptMeta := make([]domain.Chunk, 0, len(s.meta))
	removed := 0
	for i := range s.meta {
		if s.meta[i].DocumentID == documentID {
			removed++
			continue
		}
		chunk := s.meta[i]
		chunk.VectorIndex = len(keptMeta)
		keptMeta = append(keptMeta, chunk)
		keptVecs = append(keptVecs, s.vectors[i])
	}
	if removed == 0 {
		return 0, nil
	}

	prevVecs, prevMeta := s.vectors, s.meta
	s.vectors, s.meta = keptVecs, keptMeta
	if err := s.persistLocked(); err != nil {
		s.vectors, s.meta = prevVecs, prevMeta
		return 0, err
	}
	return removed, nil
}

// Count returns the number of indexed chunks.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// DocumentIDs returns the distinct document IDs currently indexed.
func (s *Store) DocumentIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var ids []string
	for i := range s.meta {
		if !seen[s.meta[i].DocumentID] {
			seen[s.meta[i].DocumentID] = true
			ids = append(ids, s.meta[i].DocumentID)
		}
	}
	return ids
}

// Stats reports index shape and configuration.
func (s *Store) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"total_chunks":        len(s.meta),
		"embedding_dimension": s.dimension,
		"index_size":          len(s.vectors),
		"model_name":          s.modelName,
		"gpu_enabled":         s.gpu,
	}
}

// Clear drops all rows and removes the persisted files, keeping the
// current rows if the files cannot be removed.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevVecs, prevMeta := s.vectors, s.meta
	s.vectors = nil
	s.meta = nil
	if err := s.removePersisted(); err != nil {
		s.vectors, s.meta = prevVecs, prevMeta
		return err
	}
	return nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
