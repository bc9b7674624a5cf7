// Package rag runs the document ingestion pipeline and retrieval:
// extract, chunk, embed, index, then similarity search over the result.
package rag

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/liliang-cn/docqa/pkg/chunker"
	"github.com/liliang-cn/docqa/pkg/domain"
	"github.com/liliang-cn/docqa/pkg/extractor"
	"github.com/liliang-cn/docqa/pkg/log"
	"github.com/liliang-cn/docqa/pkg/vectorstore"
)

// embedBatchSize bounds one embedding call during ingestion so progress
// events land at a useful granularity.
const embedBatchSize = 10

type Service struct {
	extractor *extractor.Service
	chunker   *chunker.Service
	embedder  domain.Embedder
	store     *vectorstore.Store
}

func New(ext *extractor.Service, ch *chunker.Service, emb domain.Embedder, store *vectorstore.Store) *Service {
	return &Service{
		extractor: ext,
		chunker:   ch,
		embedder:  emb,
		store:     store,
	}
}

// IngestResult summarizes one completed ingestion.
type IngestResult struct {
	DocumentID    string
	CharCount     int
	ChunksCreated int
	ProcessedPath string
}

// Ingest runs the full pipeline for one file. Re-ingesting a document ID
// replaces its previous chunks. Progress events fire at each stage when a
// notifier is given; failures emit an error event before returning.
func (s *Service) Ingest(ctx context.Context, filePath, documentID string, metadata map[string]interface{}, notify domain.ProgressNotifier) (*IngestResult, error) {
	filename := filepath.Base(filePath)

	emit := func(stage string, progress int, detail string) {
		if notify == nil {
			return
		}
		notify.Notify(domain.IngestProgress{
			DocumentID: documentID,
			Filename:   filename,
			Stage:      stage,
			Progress:   progress,
			Detail:     detail,
		})
	}

	fail := func(err error) (*IngestResult, error) {
		emit(domain.StageError, 0, err.Error())
		return nil, err
	}

	emit(domain.StageExtracting, 10, "")
	text, charCount, err := s.extractor.Process(filePath)
	if err != nil {
		return fail(err)
	}
	if !extractor.HasExtractableText(text) {
		return fail(fmt.Errorf("%w: %s", domain.ErrNoExtractableText, filename))
	}
	emit(domain.StageExtractingDone, 30, fmt.Sprintf("%d characters", charCount))

	// Chunks carry provenance so search hits can be traced back to the
	// file they came from.
	merged := make(map[string]interface{}, len(metadata)+3)
	for k, v := range metadata {
		merged[k] = v
	}
	merged["file_path"] = filePath
	merged["char_count"] = charCount
	merged["filename"] = filename

	emit(domain.StageChunking, 40, "")
	chunks := s.chunker.Split(text, documentID, merged)
	if len(chunks) == 0 {
		return fail(fmt.Errorf("%w: %s produced no chunks", domain.ErrNoExtractableText, filename))
	}
	emit(domain.StageChunkingDone, 50, fmt.Sprintf("%d chunks", len(chunks)))

	// Replace any previous version of this document in the index.
	if removed, err := s.store.DeleteDocument(documentID); err != nil {
		return fail(fmt.Errorf("%w: %v", domain.ErrVectorStoreFailed, err))
	} else if removed > 0 {
		log.Infof("replaced %d existing chunks for document %s", removed, documentID)
	}

	result := &IngestResult{
		DocumentID:    documentID,
		CharCount:     charCount,
		ChunksCreated: len(chunks),
		ProcessedPath: s.extractor.ProcessedPath(filePath),
	}

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i := range batch {
			texts[i] = batch[i].Text
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fail(fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err))
		}
		if err := s.store.Add(batch, vectors); err != nil {
			return fail(fmt.Errorf("%w: %v", domain.ErrVectorStoreFailed, err))
		}

		progress := 60 + 30*end/len(chunks)
		emit(domain.StageEmbedding, progress, fmt.Sprintf("%d/%d chunks", end, len(chunks)))
	}

	emit(domain.StageIndexing, 95, "")
	emit(domain.StageComplete, 100, fmt.Sprintf("%d chunks indexed", len(chunks)))
	log.Infof("ingested %s: %d chars, %d chunks", filename, charCount, len(chunks))
	return result, nil
}

// ExtractText re-runs text extraction for a stored file, refreshing the
// processed artifact as a side effect. Used when the artifact is missing.
func (s *Service) ExtractText(path string) (string, int, error) {
	return s.extractor.Process(path)
}

// SearchDocuments embeds the query and scans the index. An empty
// documentIDs slice searches everything.
func (s *Service) SearchDocuments(ctx context.Context, query string, topK int, threshold float64, documentIDs []string) ([]domain.SearchResult, error) {
	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
	}
	return s.store.SearchFiltered(vector, topK, threshold, documentIDs)
}

// RemoveDocument drops a document's chunks from the index and reports how
// many were removed.
func (s *Service) RemoveDocument(documentID string) (int, error) {
	return s.store.DeleteDocument(documentID)
}

// IndexedDocumentIDs lists the document IDs currently in the index.
func (s *Service) IndexedDocumentIDs() []string {
	return s.store.DocumentIDs()
}

// Stats reports index shape plus the embedding model in use.
func (s *Service) Stats() map[string]interface{} {
	stats := s.store.Stats()
	stats["embedding_model"] = s.embedder.ModelName()
	return stats
}

// Reset clears the vector index entirely.
func (s *Service) Reset() error {
	return s.store.Clear()
}
