package vectorstore

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/docqa/pkg/domain"
)

func makeChunks(docID string, n int) []domain.Chunk {
	chunks := make([]domain.Chunk, n)
	for i := range chunks {
		chunks[i] = domain.Chunk{
			ID:         fmt.Sprintf("%s_chunk_%d", docID, i),
			DocumentID: docID,
			Index:      i,
			Text:       fmt.Sprintf("chunk %d of %s", i, docID),
			Size:       20,
		}
	}
	return chunks
}

func unit(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestAddAssignsVectorIndices(t *testing.T) {
	s, err := New(4, "test-model")
	require.NoError(t, err)

	require.NoError(t, s.Add(makeChunks("a", 2), [][]float32{unit(4, 0), unit(4, 1)}))
	require.NoError(t, s.Add(makeChunks("b", 2), [][]float32{unit(4, 2), unit(4, 3)}))

	assert.Equal(t, 4, s.Count())
	for i, m := range s.meta {
		assert.Equal(t, i, m.VectorIndex)
	}
}

func TestAddRejectsMismatchedInput(t *testing.T) {
	s, err := New(4, "test-model")
	require.NoError(t, err)

	err = s.Add(makeChunks("a", 2), [][]float32{unit(4, 0)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = s.Add(makeChunks("a", 1), [][]float32{unit(3, 0)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSearchOrdersByScore(t *testing.T) {
	s, err := New(3, "test-model")
	require.NoError(t, err)

	require.NoError(t, s.Add(makeChunks("a", 3), [][]float32{
		{1, 0, 0},
		{0.6, 0.8, 0},
		{0, 0, 1},
	}))

	results, err := s.Search([]float32{1, 0, 0}, 3, 0.0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "a_chunk_0", results[0].ChunkID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "a_chunk_1", results[1].ChunkID)
	assert.InDelta(t, 0.6, results[1].Score, 1e-6)

	for i, r := range results {
		assert.Equal(t, i+1, r.Rank)
	}
}

func TestSearchThresholdFilters(t *testing.T) {
	s, err := New(3, "test-model")
	require.NoError(t, err)

	require.NoError(t, s.Add(makeChunks("a", 2), [][]float32{
		{1, 0, 0},
		{0.1, 0.99, 0},
	}))

	results, err := s.Search([]float32{1, 0, 0}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a_chunk_0", results[0].ChunkID)
	assert.Equal(t, 1, results[0].Rank)
}

func TestSearchTopKLimits(t *testing.T) {
	s, err := New(2, "test-model")
	require.NoError(t, err)

	vecs := make([][]float32, 10)
	for i := range vecs {
		vecs[i] = []float32{1, 0}
	}
	require.NoError(t, s.Add(makeChunks("a", 10), vecs))

	results, err := s.Search([]float32{1, 0}, 3, 0.0)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSearchEmptyStore(t *testing.T) {
	s, err := New(2, "test-model")
	require.NoError(t, err)

	results, err := s.Search([]float32{1, 0}, 5, 0.0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchInvalidInput(t *testing.T) {
	s, err := New(2, "test-model")
	require.NoError(t, err)

	_, err = s.Search([]float32{1, 0, 0}, 5, 0.0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = s.Search([]float32{1, 0}, 0, 0.0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSearchFilteredBySubset(t *testing.T) {
	s, err := New(2, "test-model")
	require.NoError(t, err)

	require.NoError(t, s.Add(makeChunks("doc1", 2), [][]float32{{1, 0}, {0.9, 0.1}}))
	require.NoError(t, s.Add(makeChunks("doc2", 2), [][]float32{{0.95, 0}, {0, 1}}))

	results, err := s.SearchFiltered([]float32{1, 0}, 10, 0.0, []string{"doc2"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "doc2", r.DocumentID)
	}
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, "doc2_chunk_0", results[0].ChunkID)
}

func TestSearchFilteredEmptySetSearchesAll(t *testing.T) {
	s, err := New(2, "test-model")
	require.NoError(t, err)
	require.NoError(t, s.Add(makeChunks("doc1", 1), [][]float32{{1, 0}}))

	results, err := s.SearchFiltered([]float32{1, 0}, 5, 0.0, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestDeleteDocumentCompactsIndices(t *testing.T) {
	s, err := New(2, "test-model")
	require.NoError(t, err)

	require.NoError(t, s.Add(makeChunks("doc1", 2), [][]float32{{1, 0}, {1, 0}}))
	require.NoError(t, s.Add(makeChunks("doc2", 2), [][]float32{{0, 1}, {0, 1}}))

	removed, err := s.DeleteDocument("doc1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, s.Count())

	for i, m := range s.meta {
		assert.Equal(t, i, m.VectorIndex)
		assert.Equal(t, "doc2", m.DocumentID)
	}

	removed, err = s.DeleteDocument("missing")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestStats(t *testing.T) {
	s, err := New(8, "e5-large", WithGPU(true))
	require.NoError(t, err)
	require.NoError(t, s.Add(makeChunks("a", 3), [][]float32{unit(8, 0), unit(8, 1), unit(8, 2)}))

	stats := s.Stats()
	assert.Equal(t, 3, stats["total_chunks"])
	assert.Equal(t, 8, stats["embedding_dimension"])
	assert.Equal(t, 3, stats["index_size"])
	assert.Equal(t, "e5-large", stats["model_name"])
	assert.Equal(t, true, stats["gpu_enabled"])
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s, err := New(3, "test-model", WithPersistence(dir))
	require.NoError(t, err)
	require.NoError(t, s.Add(makeChunks("doc1", 2), [][]float32{{1, 0, 0}, {0, 1, 0}}))

	// Reopen from disk.
	s2, err := New(3, "test-model", WithPersistence(dir))
	require.NoError(t, err)
	assert.Equal(t, 2, s2.Count())

	results, err := s2.Search([]float32{0, 1, 0}, 1, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc1_chunk_1", results[0].ChunkID)
	assert.Equal(t, "chunk 1 of doc1", results[0].Text)
}

func TestPersistenceDimensionMismatchResets(t *testing.T) {
	dir := t.TempDir()

	s, err := New(3, "test-model", WithPersistence(dir))
	require.NoError(t, err)
	require.NoError(t, s.Add(makeChunks("doc1", 1), [][]float32{{1, 0, 0}}))

	// A store configured with another dimension discards the snapshot.
	s2, err := New(5, "other-model", WithPersistence(dir))
	require.NoError(t, err)
	assert.Zero(t, s2.Count())
}

func TestClearRemovesSnapshot(t *testing.T) {
	dir := t.TempDir()

	s, err := New(2, "test-model", WithPersistence(dir))
	require.NoError(t, err)
	require.NoError(t, s.Add(makeChunks("doc1", 1), [][]float32{{1, 0}}))
	require.NoError(t, s.Clear())
	assert.Zero(t, s.Count())

	s2, err := New(2, "test-model", WithPersistence(dir))
	require.NoError(t, err)
	assert.Zero(t, s2.Count())
}

// blockPersist makes the next snapshot write fail by squatting a
// directory on the temp file path the writer uses.
func blockPersist(t *testing.T, dir string) func() {
	t.Helper()
	tmp := filepath.Join(dir, chunksFile+".tmp")
	require.NoError(t, os.MkdirAll(tmp, 0755))
	return func() { require.NoError(t, os.Remove(tmp)) }
}

func TestAddRevertsOnPersistFailure(t *testing.T) {
	dir := t.TempDir()
	s, err := New(2, "test-model", WithPersistence(dir))
	require.NoError(t, err)

	unblock := blockPersist(t, dir)
	err = s.Add(makeChunks("doc1", 1), [][]float32{{1, 0}})
	require.Error(t, err)
	assert.Zero(t, s.Count())

	// The store stays usable once the write path recovers.
	unblock()
	require.NoError(t, s.Add(makeChunks("doc1", 1), [][]float32{{1, 0}}))
	assert.Equal(t, 1, s.Count())
}

func TestDeleteDocumentRevertsOnPersistFailure(t *testing.T) {
	dir := t.TempDir()
	s, err := New(2, "test-model", WithPersistence(dir))
	require.NoError(t, err)
	require.NoError(t, s.Add(makeChunks("doc1", 2), [][]float32{{1, 0}, {0, 1}}))

	unblock := blockPersist(t, dir)
	_, err = s.DeleteDocument("doc1")
	require.Error(t, err)
	assert.Equal(t, 2, s.Count())

	results, err := s.Search([]float32{1, 0}, 5, 0.5)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	unblock()
	removed, err := s.DeleteDocument("doc1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Zero(t, s.Count())
}

func TestDocumentIDs(t *testing.T) {
	s, err := New(2, "test-model")
	require.NoError(t, err)
	require.NoError(t, s.Add(makeChunks("doc1", 2), [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, s.Add(makeChunks("doc2", 1), [][]float32{{1, 0}}))

	assert.Equal(t, []string{"doc1", "doc2"}, s.DocumentIDs())
}
