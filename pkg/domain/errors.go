package domain

import "errors"

var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrUnsupportedFormat  = errors.New("unsupported file format")
	ErrFileTooLarge       = errors.New("file too large")
	ErrNoExtractableText  = errors.New("no text could be extracted from document")
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmbeddingFailed    = errors.New("embedding generation failed")
	ErrGenerationFailed   = errors.New("text generation failed")
	ErrChunkingFailed     = errors.New("text chunking failed")
	ErrVectorStoreFailed  = errors.New("vector store operation failed")
	ErrHistoryStoreFailed = errors.New("history store operation failed")
	ErrConfigurationError = errors.New("configuration error")
	ErrServiceUnavailable = errors.New("service unavailable")
)
