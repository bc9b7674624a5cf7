package domain

import (
	"context"
	"time"
)

// Document statuses as stored in the documents table.
const (
	StatusUploaded  = "uploaded"
	StatusProcessed = "processed"
	StatusIndexed   = "indexed"
)

// Document is a stored document and its processing state.
type Document struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	FilePath      string    `json:"file_path"`
	FileType      string    `json:"file_type"`
	ProcessedPath string    `json:"processed_path,omitempty"`
	Status        string    `json:"status"`
	CharCount     int       `json:"char_count"`
	ChunksCreated int       `json:"chunks_created"`
	DocumentID    string    `json:"document_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Chunk is a slice of document text with its position in the vector index.
// VectorIndex always equals the chunk's row in the index matrix.
type Chunk struct {
	ID          string                 `json:"chunk_id"`
	DocumentID  string                 `json:"document_id"`
	Index       int                    `json:"chunk_index"`
	Text        string                 `json:"text"`
	Size        int                    `json:"chunk_size"`
	VectorIndex int                    `json:"vector_index"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// SearchResult is one scored hit from the vector index.
type SearchResult struct {
	Text         string                 `json:"text"`
	Score        float64                `json:"similarity_score"`
	DocumentID   string                 `json:"document_id"`
	DocumentName string                 `json:"document_name,omitempty"`
	ChunkID      string                 `json:"chunk_id"`
	ChunkIndex   int                    `json:"chunk_index"`
	Rank         int                    `json:"rank"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// SourceInfo is a citation attached to a generated answer.
type SourceInfo struct {
	DocumentName    string  `json:"document_name"`
	Page            *int    `json:"page,omitempty"`
	SimilarityScore float64 `json:"similarity_score"`
	Content         string  `json:"content"`
}

// AskRequest asks a question against the indexed documents.
type AskRequest struct {
	Question       string  `json:"question" binding:"required"`
	TopK           int     `json:"top_k"`
	ScoreThreshold float64 `json:"score_threshold"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
}

// AskResponse is the answer with citations and timing.
type AskResponse struct {
	Success            bool         `json:"success"`
	Answer             string       `json:"answer"`
	Sources            []SourceInfo `json:"sources"`
	LLMUsed            string       `json:"llm_used,omitempty"`
	ResponseTime       float64      `json:"response_time"`
	ContextChunksCount int          `json:"context_chunks_count"`
	Error              string       `json:"error,omitempty"`
}

// SearchRequest retrieves raw chunks without generation.
type SearchRequest struct {
	Query          string   `json:"query" binding:"required"`
	TopK           int      `json:"top_k"`
	ScoreThreshold float64  `json:"score_threshold"`
	DocumentIDs    []string `json:"document_ids,omitempty"`
}

// SearchResponse wraps the scored hits for a search query.
type SearchResponse struct {
	Success      bool           `json:"success"`
	Query        string         `json:"query"`
	ResultsCount int            `json:"results_count"`
	Results      []SearchResult `json:"results"`
	Error        string         `json:"error,omitempty"`
}

// QueryRecord is one row of query history.
type QueryRecord struct {
	ID                 int64     `json:"id"`
	Question           string    `json:"question"`
	Answer             string    `json:"answer,omitempty"`
	SourcesCount       int       `json:"sources_count"`
	ResponseTime       float64   `json:"response_time"`
	LLMUsed            string    `json:"llm_used,omitempty"`
	ContextChunksCount int       `json:"context_chunks_count"`
	Success            bool      `json:"success"`
	SimilarityHash     string    `json:"similarity_hash,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// IngestProgress reports one stage of the ingestion pipeline.
type IngestProgress struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Stage      string `json:"stage"`
	Progress   int    `json:"progress"`
	Detail     string `json:"detail,omitempty"`
}

// Ingestion stages in pipeline order.
const (
	StageExtracting     = "extracting"
	StageExtractingDone = "extracting_done"
	StageChunking       = "chunking"
	StageChunkingDone   = "chunking_done"
	StageEmbedding      = "embedding"
	StageIndexing       = "indexing"
	StageComplete       = "complete"
	StageError          = "error"
)

// ProgressNotifier receives pipeline progress events. Implementations must
// not block; events may be dropped for slow consumers.
type ProgressNotifier interface {
	Notify(progress IngestProgress)
}

// ProgressFunc adapts a function to ProgressNotifier.
type ProgressFunc func(IngestProgress)

func (f ProgressFunc) Notify(p IngestProgress) { f(p) }

// Embedder turns text into unit-norm vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	ModelName() string
}

// GenerationOptions controls a single LLM completion.
type GenerationOptions struct {
	MaxTokens   int
	Temperature float64
	Stop        []string
}
