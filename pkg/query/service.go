// Package query answers questions against the indexed documents and
// records the outcome in query history.
package query

import (
	"context"
	"crypto/md5"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/liliang-cn/docqa/pkg/domain"
	"github.com/liliang-cn/docqa/pkg/log"
)

// Validation bounds on incoming requests.
const (
	minQuestionLength = 3
	maxQuestionLength = 1000
	maxAskTopK        = 20
	maxSearchTopK     = 50

	defaultTopK            = 5
	defaultAskThreshold    = 0.3
	defaultSearchThreshold = 0.2
)

// Canned user-facing answers for the no-hit and failure paths.
const (
	answerNoRelevantInfo = "I couldn't find any relevant information in the documents to answer your question."
	answerInternalError  = "I apologize, but I encountered an error while processing your question."
)

// maxSources caps the citations attached to an answer.
const maxSources = 3

// sourcePreviewLength is the content excerpt length per citation, in runes.
const sourcePreviewLength = 200

// Retriever finds relevant chunks for a query.
type Retriever interface {
	SearchDocuments(ctx context.Context, query string, topK int, threshold float64, documentIDs []string) ([]domain.SearchResult, error)
}

// Generator produces an answer from retrieved chunks, reporting which
// backend produced it.
type Generator interface {
	GenerateAnswer(ctx context.Context, chunks []domain.SearchResult, question string, maxTokens int, temperature float64) (string, string, error)
}

// DocumentNames resolves a document ID to its display filename.
type DocumentNames interface {
	DocumentName(ctx context.Context, documentID string) (string, error)
}

// HistoryRecorder persists finished queries for analytics.
type HistoryRecorder interface {
	RecordQuery(ctx context.Context, record domain.QueryRecord) error
}

type Service struct {
	retriever Retriever
	generator Generator
	names     DocumentNames
	history   HistoryRecorder
}

// New builds the service. names and history may be nil; enrichment and
// recording are then skipped.
func New(retriever Retriever, generator Generator, names DocumentNames, history HistoryRecorder) *Service {
	return &Service{
		retriever: retriever,
		generator: generator,
		names:     names,
		history:   history,
	}
}

// Ask answers a question with citations. Validation problems return
// ErrInvalidInput; runtime failures come back inside the response with
// Success false so callers always have something to show the user.
func (s *Service) Ask(ctx context.Context, req domain.AskRequest) (*domain.AskResponse, error) {
	if err := validateAsk(&req); err != nil {
		return nil, err
	}

	started := time.Now()
	resp := s.ask(ctx, req, started)
	s.record(ctx, req.Question, resp)
	return resp, nil
}

func (s *Service) ask(ctx context.Context, req domain.AskRequest, started time.Time) *domain.AskResponse {
	hits, err := s.retriever.SearchDocuments(ctx, req.Question, req.TopK, req.ScoreThreshold, nil)
	if err != nil {
		log.Errf("retrieval failed: %v", err)
		return &domain.AskResponse{
			Answer:       answerInternalError,
			Sources:      []domain.SourceInfo{},
			ResponseTime: elapsed(started),
			Error:        err.Error(),
		}
	}

	if len(hits) == 0 {
		return &domain.AskResponse{
			Success:      true,
			Answer:       answerNoRelevantInfo,
			Sources:      []domain.SourceInfo{},
			LLMUsed:      "none",
			ResponseTime: elapsed(started),
		}
	}

	s.enrichNames(ctx, hits)

	answer, llmUsed, err := s.generator.GenerateAnswer(ctx, hits, req.Question, req.MaxTokens, req.Temperature)
	if err != nil {
		log.Errf("generation failed: %v", err)
		return &domain.AskResponse{
			Answer:             answerInternalError,
			Sources:            []domain.SourceInfo{},
			ResponseTime:       elapsed(started),
			ContextChunksCount: len(hits),
			Error:              err.Error(),
		}
	}

	return &domain.AskResponse{
		Success:            true,
		Answer:             answer,
		Sources:            buildSources(hits),
		LLMUsed:            llmUsed,
		ResponseTime:       elapsed(started),
		ContextChunksCount: len(hits),
	}
}

// Search retrieves raw chunks without generation.
func (s *Service) Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error) {
	if err := validateSearch(&req); err != nil {
		return nil, err
	}

	hits, err := s.retriever.SearchDocuments(ctx, req.Query, req.TopK, req.ScoreThreshold, req.DocumentIDs)
	if err != nil {
		log.Errf("search failed: %v", err)
		return &domain.SearchResponse{
			Query:   req.Query,
			Results: []domain.SearchResult{},
			Error:   err.Error(),
		}, nil
	}

	s.enrichNames(ctx, hits)
	for i := range hits {
		hits[i].Score = round3(hits[i].Score)
	}

	return &domain.SearchResponse{
		Success:      true,
		Query:        req.Query,
		ResultsCount: len(hits),
		Results:      hits,
	}, nil
}

func validateAsk(req *domain.AskRequest) error {
	question := strings.TrimSpace(req.Question)
	if l := utf8.RuneCountInString(question); l < minQuestionLength || l > maxQuestionLength {
		return fmt.Errorf("%w: question must be between %d and %d characters", domain.ErrInvalidInput, minQuestionLength, maxQuestionLength)
	}
	req.Question = question

	if req.TopK == 0 {
		req.TopK = defaultTopK
	}
	if req.TopK < 1 || req.TopK > maxAskTopK {
		return fmt.Errorf("%w: top_k must be between 1 and %d", domain.ErrInvalidInput, maxAskTopK)
	}
	if req.ScoreThreshold == 0 {
		req.ScoreThreshold = defaultAskThreshold
	}
	if req.ScoreThreshold < 0 || req.ScoreThreshold > 1 {
		return fmt.Errorf("%w: score_threshold must be between 0 and 1", domain.ErrInvalidInput)
	}
	return nil
}

func validateSearch(req *domain.SearchRequest) error {
	query := strings.TrimSpace(req.Query)
	if l := utf8.RuneCountInString(query); l < minQuestionLength || l > maxQuestionLength {
		return fmt.Errorf("%w: query must be between %d and %d characters", domain.ErrInvalidInput, minQuestionLength, maxQuestionLength)
	}
	req.Query = query

	if req.TopK == 0 {
		req.TopK = defaultTopK
	}
	if req.TopK < 1 || req.TopK > maxSearchTopK {
		return fmt.Errorf("%w: top_k must be between 1 and %d", domain.ErrInvalidInput, maxSearchTopK)
	}
	if req.ScoreThreshold == 0 {
		req.ScoreThreshold = defaultSearchThreshold
	}
	if req.ScoreThreshold < 0 || req.ScoreThreshold > 1 {
		return fmt.Errorf("%w: score_threshold must be between 0 and 1", domain.ErrInvalidInput)
	}
	return nil
}

// enrichNames fills DocumentName on each hit from the document table,
// falling back to "Document <id>" when the lookup fails.
func (s *Service) enrichNames(ctx context.Context, hits []domain.SearchResult) {
	if s.names == nil {
		for i := range hits {
			if hits[i].DocumentName == "" {
				hits[i].DocumentName = "Document " + hits[i].DocumentID
			}
		}
		return
	}

	cache := make(map[string]string)
	for i := range hits {
		id := hits[i].DocumentID
		name, ok := cache[id]
		if !ok {
			var err error
			name, err = s.names.DocumentName(ctx, id)
			if err != nil || name == "" {
				name = "Document " + id
			}
			cache[id] = name
		}
		hits[i].DocumentName = name
	}
}

// buildSources turns the top hits into citations, one per document name,
// at most maxSources of them.
func buildSources(hits []domain.SearchResult) []domain.SourceInfo {
	sources := make([]domain.SourceInfo, 0, maxSources)
	seen := make(map[string]bool)

	for _, hit := range hits {
		if seen[hit.DocumentName] {
			continue
		}
		seen[hit.DocumentName] = true

		sources = append(sources, domain.SourceInfo{
			DocumentName:    hit.DocumentName,
			SimilarityScore: round3(hit.Score),
			Content:         preview(hit.Text),
		})
		if len(sources) == maxSources {
			break
		}
	}
	return sources
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= sourcePreviewLength {
		return text
	}
	return string(runes[:sourcePreviewLength]) + "..."
}

func (s *Service) record(ctx context.Context, question string, resp *domain.AskResponse) {
	if s.history == nil {
		return
	}

	record := domain.QueryRecord{
		Question:           question,
		Answer:             resp.Answer,
		SourcesCount:       len(resp.Sources),
		ResponseTime:       resp.ResponseTime,
		LLMUsed:            resp.LLMUsed,
		ContextChunksCount: resp.ContextChunksCount,
		Success:            resp.Success,
		SimilarityHash:     SimilarityHash(question),
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.history.RecordQuery(ctx, record); err != nil {
		log.Warnf("failed to record query history: %v", err)
	}
}

// SimilarityHash groups near-identical questions: lowercase, trimmed,
// with common punctuation stripped, then md5-hashed.
func SimilarityHash(question string) string {
	normalized := strings.ToLower(strings.TrimSpace(question))
	normalized = strings.NewReplacer("?", "", ".", "", ",", "").Replace(normalized)
	return fmt.Sprintf("%x", md5.Sum([]byte(normalized)))
}

func elapsed(started time.Time) float64 {
	return math.Round(time.Since(started).Seconds()*1000) / 1000
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
