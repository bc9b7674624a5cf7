package llm

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

type stubBackend struct {
	name      string
	available bool
	answer    string
	err       error
	calls     int
}

func (b *stubBackend) Name() string    { return b.name }
func (b *stubBackend) Model() string   { return b.name + "-model" }
func (b *stubBackend) Available() bool { return b.available }

func (b *stubBackend) Generate(_ context.Context, _ string, _ *domain.GenerationOptions) (string, error) {
	b.calls++
	return b.answer, b.err
}

func (b *stubBackend) Stream(_ context.Context, _ string, _ *domain.GenerationOptions, callback func(string)) error {
	b.calls++
	if b.err != nil {
		return b.err
	}
	for _, word := range strings.Fields(b.answer) {
		callback(word + " ")
	}
	return nil
}

func someChunks() []domain.SearchResult {
	return []domain.SearchResult{
		{Text: "Go was designed at Google.", Score: 0.9, DocumentName: "go.pdf"},
		{Text: "Go compiles quickly.", Score: 0.7, DocumentName: "build.txt"},
	}
}

func TestGenerateAnswerUsesPrimary(t *testing.T) {
	groq := &stubBackend{name: BackendGroq, available: true, answer: "From Groq."}
	oai := &stubBackend{name: BackendOpenAI, available: true, answer: "From OpenAI."}
	svc := NewServiceWithBackends(false, groq, oai)

	answer, used, err := svc.GenerateAnswer(context.Background(), someChunks(), "who made go?", 256, 0.3)
	require.NoError(t, err)
	assert.Equal(t, "From Groq.", answer)
	assert.Equal(t, BackendGroq, used)
	assert.Zero(t, oai.calls)
}

func TestGenerateAnswerFallsBackOnError(t *testing.T) {
	groq := &stubBackend{name: BackendGroq, available: true, err: errors.New("boom")}
	oai := &stubBackend{name: BackendOpenAI, available: true, answer: "From OpenAI."}
	svc := NewServiceWithBackends(false, groq, oai)

	answer, used, err := svc.GenerateAnswer(context.Background(), someChunks(), "who made go?", 256, 0.3)
	require.NoError(t, err)
	assert.Equal(t, "From OpenAI.", answer)
	assert.Equal(t, BackendOpenAI, used)
	assert.Equal(t, 1, groq.calls)
}

func TestGenerateAnswerFallsBackOnErrorLikeAnswer(t *testing.T) {
	groq := &stubBackend{name: BackendGroq, available: true, answer: answerGenerationError}
	local := &stubBackend{name: BackendLocal, available: true, answer: "Local answer."}
	svc := NewServiceWithBackends(false, groq, local)

	answer, used, err := svc.GenerateAnswer(context.Background(), someChunks(), "who made go?", 256, 0.3)
	require.NoError(t, err)
	assert.Equal(t, "Local answer.", answer)
	assert.Equal(t, BackendLocal, used)
}

func TestGenerateAnswerSkipsUnavailable(t *testing.T) {
	groq := &stubBackend{name: BackendGroq, available: false, answer: "never"}
	oai := &stubBackend{name: BackendOpenAI, available: true, answer: "From OpenAI."}
	svc := NewServiceWithBackends(false, groq, oai)

	_, used, err := svc.GenerateAnswer(context.Background(), someChunks(), "q?", 256, 0.3)
	require.NoError(t, err)
	assert.Equal(t, BackendOpenAI, used)
	assert.Zero(t, groq.calls)
}

func TestGenerateAnswerAllFail(t *testing.T) {
	groq := &stubBackend{name: BackendGroq, available: true, err: errors.New("down")}
	svc := NewServiceWithBackends(false, groq)

	answer, used, err := svc.GenerateAnswer(context.Background(), someChunks(), "q?", 256, 0.3)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.Empty(t, answer)
	assert.Empty(t, used)
}

func TestGenerateAnswerNoBackendsAvailable(t *testing.T) {
	offline := &stubBackend{name: BackendGroq, available: false, answer: "never"}
	svc := NewServiceWithBackends(false, offline)

	_, _, err := svc.GenerateAnswer(context.Background(), someChunks(), "q?", 256, 0.3)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.Zero(t, offline.calls)
}

func TestGenerateAnswerValidatesInput(t *testing.T) {
	svc := NewServiceWithBackends(false, &stubBackend{name: BackendGroq, available: true, answer: "x"})

	_, _, err := svc.GenerateAnswer(context.Background(), nil, "q?", 256, 0.3)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, _, err = svc.GenerateAnswer(context.Background(), someChunks(), "  ", 256, 0.3)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPreferLocalOrdering(t *testing.T) {
	local := &stubBackend{name: BackendLocal, available: true, answer: "Local answer."}
	groq := &stubBackend{name: BackendGroq, available: true, answer: "From Groq."}
	svc := NewServiceWithBackends(true, local, groq)

	_, used, err := svc.GenerateAnswer(context.Background(), someChunks(), "q?", 256, 0.3)
	require.NoError(t, err)
	assert.Equal(t, BackendLocal, used)
}

func TestSwitchPrimary(t *testing.T) {
	groq := &stubBackend{name: BackendGroq, available: true, answer: "From Groq."}
	local := &stubBackend{name: BackendLocal, available: true, answer: "Local answer."}
	svc := NewServiceWithBackends(false, groq, local)

	require.NoError(t, svc.SwitchPrimary(BackendLocal))
	_, used, err := svc.GenerateAnswer(context.Background(), someChunks(), "q?", 256, 0.3)
	require.NoError(t, err)
	assert.Equal(t, BackendLocal, used)

	assert.ErrorIs(t, svc.SwitchPrimary("nonsense"), domain.ErrInvalidInput)

	offline := &stubBackend{name: BackendOpenAI, available: false}
	svc2 := NewServiceWithBackends(false, offline)
	assert.ErrorIs(t, svc2.SwitchPrimary(BackendOpenAI), domain.ErrServiceUnavailable)
}

func TestStatus(t *testing.T) {
	groq := &stubBackend{name: BackendGroq, available: true}
	svc := NewServiceWithBackends(false, groq)

	status := svc.Status()
	assert.Equal(t, BackendGroq, status["primary_llm"])
	entry := status[BackendGroq].(map[string]interface{})
	assert.Equal(t, true, entry["available"])
	assert.Equal(t, "groq-model", entry["model"])
}

func TestStreamFallsThrough(t *testing.T) {
	groq := &stubBackend{name: BackendGroq, available: true, err: errors.New("down")}
	oai := &stubBackend{name: BackendOpenAI, available: true, answer: "streamed words here"}
	svc := NewServiceWithBackends(false, groq, oai)

	var got strings.Builder
	used, err := svc.Stream(context.Background(), "prompt", nil, func(s string) { got.WriteString(s) })
	require.NoError(t, err)
	assert.Equal(t, BackendOpenAI, used)
	assert.Contains(t, got.String(), "streamed words")
}

func TestBuildContextBudget(t *testing.T) {
	big := strings.Repeat("x", 2000)
	chunks := []domain.SearchResult{
		{Text: big, Score: 0.9, DocumentName: "a.pdf"},
		{Text: big, Score: 0.8, DocumentName: "b.pdf"},
		{Text: big, Score: 0.7, DocumentName: "c.pdf"},
	}

	ctx := buildContext(chunks, 3500)
	assert.LessOrEqual(t, len(ctx), 3500)
	assert.Contains(t, ctx, "[Source 1: a.pdf]")
	assert.NotContains(t, ctx, "c.pdf")
}

func TestBuildContextOrdersByScore(t *testing.T) {
	chunks := []domain.SearchResult{
		{Text: "low", Score: 0.2, DocumentName: "low.txt"},
		{Text: "high", Score: 0.9, DocumentName: "high.txt"},
	}

	ctx := buildContext(chunks, 3500)
	require.True(t, strings.Index(ctx, "high") < strings.Index(ctx, "low"))
	assert.Contains(t, ctx, "[Source 1: high.txt]")
	assert.Contains(t, ctx, "[Source 2: low.txt]")
}

func TestBuildContextSkipsEmptyChunks(t *testing.T) {
	chunks := []domain.SearchResult{
		{Text: "   ", Score: 0.9, DocumentName: "a"},
		{Text: "content", Score: 0.5, DocumentName: "b"},
	}
	ctx := buildContext(chunks, 3500)
	assert.Contains(t, ctx, "content")
	assert.NotContains(t, ctx, "[Source 1: a]")
}

func TestClampOptions(t *testing.T) {
	out := clampOptions(&domain.GenerationOptions{MaxTokens: 4096, Temperature: 2.5})
	assert.Equal(t, answerMaxTokens, out.MaxTokens)
	assert.InDelta(t, 1.0, out.Temperature, 1e-9)
	assert.Equal(t, stopSequences, out.Stop)

	out = clampOptions(nil)
	assert.Equal(t, answerMaxTokens, out.MaxTokens)
	assert.InDelta(t, 0.3, out.Temperature, 1e-9)

	out = clampOptions(&domain.GenerationOptions{MaxTokens: 100, Temperature: 0})
	assert.Equal(t, 100, out.MaxTokens)
	assert.InDelta(t, 0.0, out.Temperature, 1e-9)
}

func TestRagPromptShape(t *testing.T) {
	prompt := fmt.Sprintf(ragPromptTemplate, "CTX", "Why?")
	assert.Contains(t, prompt, "CONTEXT:\nCTX")
	assert.Contains(t, prompt, "QUESTION: Why?")
	assert.True(t, strings.HasSuffix(prompt, "ANSWER:"))
}
