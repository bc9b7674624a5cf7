package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/docqa/api/handlers"
	"github.com/liliang-cn/docqa/api/websocket"
	"github.com/liliang-cn/docqa/pkg/chunker"
	"github.com/liliang-cn/docqa/pkg/domain"
	"github.com/liliang-cn/docqa/pkg/embedder"
	"github.com/liliang-cn/docqa/pkg/extractor"
	"github.com/liliang-cn/docqa/pkg/history"
	"github.com/liliang-cn/docqa/pkg/llm"
	"github.com/liliang-cn/docqa/pkg/query"
	"github.com/liliang-cn/docqa/pkg/rag"
	"github.com/liliang-cn/docqa/pkg/vectorstore"
)

type fixedBackend struct {
	name   string
	answer string
}

func (b *fixedBackend) Name() string    { return b.name }
func (b *fixedBackend) Model() string   { return b.name + "-model" }
func (b *fixedBackend) Available() bool { return true }

func (b *fixedBackend) Generate(_ context.Context, _ string, _ *domain.GenerationOptions) (string, error) {
	return b.answer, nil
}

func (b *fixedBackend) Stream(_ context.Context, _ string, _ *domain.GenerationOptions, callback func(string)) error {
	callback(b.answer)
	return nil
}

type testEnv struct {
	router *gin.Engine
	repo   *history.Repository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	repo, err := history.NewRepository(filepath.Join(dir, "docqa.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	emb := embedder.NewLocalEmbedder(64)
	store, err := vectorstore.New(emb.Dimension(), emb.ModelName())
	require.NoError(t, err)

	pipeline := rag.New(
		extractor.New(filepath.Join(dir, "processed")),
		chunker.New(200, 40),
		emb,
		store,
	)

	llmService := llm.NewServiceWithBackends(false,
		&fixedBackend{name: llm.BackendGroq, answer: "Documents say Go was designed at Google."})
	queryService := query.New(pipeline, llmService, repo, repo)

	hub := websocket.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	documentsHandler := handlers.NewDocumentsHandler(repo, pipeline, hub, filepath.Join(dir, "uploads"), 1024*1024)
	queryHandler := handlers.NewQueryHandler(queryService, pipeline, llmService, repo)
	analyticsHandler := handlers.NewAnalyticsHandler(repo)
	llmHandler := handlers.NewLLMHandler(llmService)

	router := gin.New()
	v1 := router.Group("/api/v1")

	documents := v1.Group("/documents")
	documents.POST("/upload", documentsHandler.Upload)
	documents.GET("", documentsHandler.List)
	documents.GET("/rag-stats", documentsHandler.RagStats)
	documents.POST("/search", documentsHandler.Search)
	documents.POST("/reset-vector-store", documentsHandler.ResetVectorStore)
	documents.GET("/:id", documentsHandler.Get)
	documents.DELETE("/:id", documentsHandler.Delete)
	documents.GET("/:id/content", documentsHandler.Content)
	documents.GET("/:id/download", documentsHandler.Download)

	queryGroup := v1.Group("/query")
	queryGroup.POST("/ask", queryHandler.Ask)
	queryGroup.POST("/search", queryHandler.Search)
	queryGroup.GET("/history", queryHandler.History)
	queryGroup.GET("/status", queryHandler.Status)
	queryGroup.GET("/health", queryHandler.Health)

	analytics := v1.Group("/analytics")
	analytics.GET("/stats", analyticsHandler.Stats)
	analytics.GET("/popular-questions", analyticsHandler.PopularQuestions)
	analytics.GET("/query-trends", analyticsHandler.QueryTrends)
	analytics.GET("/llm-usage", analyticsHandler.LLMUsage)

	llmGroup := v1.Group("/llm")
	llmGroup.POST("/switch", llmHandler.Switch)
	llmGroup.GET("/status", llmHandler.Status)

	return &testEnv{router: router, repo: repo}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postJSON(t *testing.T, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return e.do(t, http.MethodPost, path, body, "application/json")
}

func (e *testEnv) upload(t *testing.T, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return e.do(t, http.MethodPost, "/api/v1/documents/upload", buf.Bytes(), writer.FormDataContentType())
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestUploadAndListDocuments(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "go.txt", "Go is a programming language designed at Google. It compiles fast.")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "processed", body["status"])
	assert.Greater(t, body["chunks_created"].(float64), 0.0)

	rec = env.do(t, http.MethodGet, "/api/v1/documents", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)
	assert.Equal(t, 1.0, list["total"].(float64))
}

func TestUploadWithoutExtractableTextKeepsRow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "empty.txt", "   \n\t  ")
	require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())

	// The row survives in the uploaded state so the file can be retried
	// or inspected.
	rec = env.do(t, http.MethodGet, "/api/v1/documents", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)
	require.Equal(t, 1.0, list["total"].(float64))

	docs := list["documents"].([]interface{})
	doc := docs[0].(map[string]interface{})
	assert.Equal(t, "uploaded", doc["status"])
	assert.Equal(t, 0.0, doc["chunks_created"].(float64))
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	env := newTestEnv(t)
	rec := env.upload(t, "malware.exe", "binary")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	env := newTestEnv(t)
	rec := env.upload(t, "big.txt", strings.Repeat("x", 2*1024*1024))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestGetDocumentNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/documents/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentContentAndDelete(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "note.txt", "A short note about databases.")
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode(t, rec)["id"].(string)

	rec = env.do(t, http.MethodGet, "/api/v1/documents/"+id+"/content", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec)["content"], "short note")

	rec = env.do(t, http.MethodDelete, "/api/v1/documents/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/documents/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentSearch(t *testing.T) {
	env := newTestEnv(t)
	rec := env.upload(t, "go.txt", "Go is a programming language designed at Google.")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.postJSON(t, "/api/v1/documents/search", map[string]interface{}{
		"query":           "programming language google",
		"score_threshold": 0.01,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Greater(t, body["results_count"].(float64), 0.0)
}

func TestAskEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.upload(t, "go.txt", "Go is a programming language designed at Google.")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.postJSON(t, "/api/v1/query/ask", map[string]interface{}{
		"question":        "Who designed the Go programming language?",
		"score_threshold": 0.01,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body["answer"], "Google")
	assert.Equal(t, llm.BackendGroq, body["llm_used"])

	// The ask was recorded.
	rec = env.do(t, http.MethodGet, "/api/v1/query/history", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["total"].(float64))
}

func TestAskValidationError(t *testing.T) {
	env := newTestEnv(t)
	rec := env.postJSON(t, "/api/v1/query/ask", map[string]interface{}{"question": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryStatusAndHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/query/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body, "rag")
	assert.Contains(t, body, "llm")

	rec = env.do(t, http.MethodGet, "/api/v1/query/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAnalyticsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	rec := env.upload(t, "go.txt", "Go is a programming language designed at Google.")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.postJSON(t, "/api/v1/query/ask", map[string]interface{}{
		"question":        "Who designed the Go programming language?",
		"score_threshold": 0.01,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/analytics/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)
	assert.Equal(t, 1.0, stats["total_queries"].(float64))
	assert.Equal(t, 1.0, stats["total_documents"].(float64))

	rec = env.do(t, http.MethodGet, "/api/v1/analytics/query-trends?days=3", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	trends := decode(t, rec)
	assert.Len(t, trends["trends"], 3)

	// A full-year window is allowed; out-of-range values fall back to 7.
	rec = env.do(t, http.MethodGet, "/api/v1/analytics/query-trends?days=365", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 365.0, decode(t, rec)["days"].(float64))

	rec = env.do(t, http.MethodGet, "/api/v1/analytics/query-trends?days=400", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7.0, decode(t, rec)["days"].(float64))

	rec = env.do(t, http.MethodGet, "/api/v1/analytics/llm-usage", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	usage := decode(t, rec)
	assert.Equal(t, llm.BackendGroq, usage["most_used"])

	rec = env.do(t, http.MethodGet, "/api/v1/analytics/popular-questions", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResetVectorStoreRebuilds(t *testing.T) {
	env := newTestEnv(t)
	rec := env.upload(t, "go.txt", "Go is a programming language designed at Google.")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/documents/reset-vector-store", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 1.0, body["rebuilt"].(float64))
	assert.Equal(t, 0.0, body["failed"].(float64))

	rec = env.do(t, http.MethodGet, "/api/v1/documents/rag-stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)
	assert.Greater(t, stats["total_chunks"].(float64), 0.0)
}

func TestLLMSwitch(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/llm/switch?backend=groq", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/llm/switch?backend=bogus", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/llm/switch", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
