package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/docqa/pkg/domain"
)

type fakeRetriever struct {
	hits []domain.SearchResult
	err  error

	gotTopK      int
	gotThreshold float64
	gotDocIDs    []string
}

func (f *fakeRetriever) SearchDocuments(_ context.Context, _ string, topK int, threshold float64, documentIDs []string) ([]domain.SearchResult, error) {
	f.gotTopK = topK
	f.gotThreshold = threshold
	f.gotDocIDs = documentIDs
	return f.hits, f.err
}

type fakeGenerator struct {
	answer string
	name   string
	err    error
}

func (f *fakeGenerator) GenerateAnswer(_ context.Context, _ []domain.SearchResult, _ string, _ int, _ float64) (string, string, error) {
	return f.answer, f.name, f.err
}

type fakeNames struct{ names map[string]string }

func (f *fakeNames) DocumentName(_ context.Context, id string) (string, error) {
	name, ok := f.names[id]
	if !ok {
		return "", errors.New("not found")
	}
	return name, nil
}

type fakeHistory struct{ records []domain.QueryRecord }

func (f *fakeHistory) RecordQuery(_ context.Context, r domain.QueryRecord) error {
	f.records = append(f.records, r)
	return nil
}

func hits() []domain.SearchResult {
	return []domain.SearchResult{
		{Text: "Go was designed at Google.", Score: 0.91234, DocumentID: "doc-1", Rank: 1},
		{Text: "Go compiles to native code.", Score: 0.85, DocumentID: "doc-1", Rank: 2},
		{Text: "Rust is memory safe.", Score: 0.6, DocumentID: "doc-2", Rank: 3},
	}
}

func TestAskHappyPath(t *testing.T) {
	retriever := &fakeRetriever{hits: hits()}
	history := &fakeHistory{}
	svc := New(retriever,
		&fakeGenerator{answer: "Go was designed at Google.", name: "groq"},
		&fakeNames{names: map[string]string{"doc-1": "go.pdf", "doc-2": "rust.pdf"}},
		history)

	resp, err := svc.Ask(context.Background(), domain.AskRequest{Question: "Who designed Go?"})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "Go was designed at Google.", resp.Answer)
	assert.Equal(t, "groq", resp.LLMUsed)
	assert.Equal(t, 3, resp.ContextChunksCount)

	// Sources dedupe by document name and round scores to 3 decimals.
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "go.pdf", resp.Sources[0].DocumentName)
	assert.Equal(t, 0.912, resp.Sources[0].SimilarityScore)
	assert.Equal(t, "rust.pdf", resp.Sources[1].DocumentName)

	require.Len(t, history.records, 1)
	rec := history.records[0]
	assert.Equal(t, "Who designed Go?", rec.Question)
	assert.True(t, rec.Success)
	assert.Equal(t, 2, rec.SourcesCount)
	assert.NotEmpty(t, rec.SimilarityHash)
}

func TestAskDefaults(t *testing.T) {
	retriever := &fakeRetriever{hits: hits()}
	svc := New(retriever, &fakeGenerator{answer: "ok", name: "groq"}, nil, nil)

	_, err := svc.Ask(context.Background(), domain.AskRequest{Question: "Who designed Go?"})
	require.NoError(t, err)
	assert.Equal(t, defaultTopK, retriever.gotTopK)
	assert.InDelta(t, defaultAskThreshold, retriever.gotThreshold, 1e-9)
}

func TestAskValidation(t *testing.T) {
	svc := New(&fakeRetriever{}, &fakeGenerator{}, nil, nil)

	cases := []domain.AskRequest{
		{Question: "hi"},
		{Question: strings.Repeat("x", 1001)},
		{Question: "valid question", TopK: 21},
		{Question: "valid question", TopK: -1},
		{Question: "valid question", ScoreThreshold: 1.5},
	}
	for _, req := range cases {
		_, err := svc.Ask(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	}
}

func TestAskNoHits(t *testing.T) {
	history := &fakeHistory{}
	svc := New(&fakeRetriever{}, &fakeGenerator{}, nil, history)

	resp, err := svc.Ask(context.Background(), domain.AskRequest{Question: "Anything at all?"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, answerNoRelevantInfo, resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, "none", resp.LLMUsed)
	require.Len(t, history.records, 1)
	assert.Equal(t, 0, history.records[0].SourcesCount)
	assert.Equal(t, "none", history.records[0].LLMUsed)
}

func TestAskRetrievalFailure(t *testing.T) {
	svc := New(&fakeRetriever{err: errors.New("index offline")}, &fakeGenerator{}, nil, nil)

	resp, err := svc.Ask(context.Background(), domain.AskRequest{Question: "Who designed Go?"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, answerInternalError, resp.Answer)
	assert.Contains(t, resp.Error, "index offline")
}

func TestAskGenerationFailure(t *testing.T) {
	history := &fakeHistory{}
	genErr := fmt.Errorf("%w: no backend could generate an answer", domain.ErrServiceUnavailable)
	svc := New(&fakeRetriever{hits: hits()}, &fakeGenerator{err: genErr}, nil, history)

	resp, err := svc.Ask(context.Background(), domain.AskRequest{Question: "Who designed Go?"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, answerInternalError, resp.Answer)
	assert.Empty(t, resp.LLMUsed)
	require.Len(t, history.records, 1)
	assert.False(t, history.records[0].Success)
	assert.Empty(t, history.records[0].LLMUsed)
}

func TestAskNameFallback(t *testing.T) {
	svc := New(&fakeRetriever{hits: hits()}, &fakeGenerator{answer: "ok", name: "groq"},
		&fakeNames{names: map[string]string{}}, nil)

	resp, err := svc.Ask(context.Background(), domain.AskRequest{Question: "Who designed Go?"})
	require.NoError(t, err)
	assert.Equal(t, "Document doc-1", resp.Sources[0].DocumentName)
}

func TestSearchHappyPath(t *testing.T) {
	retriever := &fakeRetriever{hits: hits()}
	svc := New(retriever, &fakeGenerator{}, &fakeNames{names: map[string]string{"doc-1": "go.pdf"}}, nil)

	resp, err := svc.Search(context.Background(), domain.SearchRequest{
		Query:       "garbage collection",
		DocumentIDs: []string{"doc-1"},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.ResultsCount)
	assert.Equal(t, 0.912, resp.Results[0].Score)
	assert.Equal(t, "go.pdf", resp.Results[0].DocumentName)
	assert.Equal(t, []string{"doc-1"}, retriever.gotDocIDs)
	assert.InDelta(t, defaultSearchThreshold, retriever.gotThreshold, 1e-9)
}

func TestSearchValidation(t *testing.T) {
	svc := New(&fakeRetriever{}, &fakeGenerator{}, nil, nil)

	_, err := svc.Search(context.Background(), domain.SearchRequest{Query: "ab"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Search(context.Background(), domain.SearchRequest{Query: "valid query", TopK: 51})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	// Search allows a larger topK than Ask.
	_, err = svc.Search(context.Background(), domain.SearchRequest{Query: "valid query", TopK: 50})
	assert.NoError(t, err)
}

func TestSimilarityHashNormalizes(t *testing.T) {
	a := SimilarityHash("What is Go?")
	b := SimilarityHash("  what is go  ")
	c := SimilarityHash("What is Rust?")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestPreviewTruncates(t *testing.T) {
	long := strings.Repeat("a", 300)
	got := preview(long)
	assert.Len(t, got, sourcePreviewLength+3)
	assert.True(t, strings.HasSuffix(got, "..."))

	assert.Equal(t, "short", preview("short"))
}
