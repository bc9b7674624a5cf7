// Package api provides the HTTP layer: REST endpoints under /api/v1
// for documents, queries, and analytics, plus WebSocket streaming.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/liliang-cn/docqa/api/handlers"
	"github.com/liliang-cn/docqa/api/middleware"
	"github.com/liliang-cn/docqa/api/websocket"
	"github.com/liliang-cn/docqa/pkg/chunker"
	"github.com/liliang-cn/docqa/pkg/config"
	"github.com/liliang-cn/docqa/pkg/domain"
	"github.com/liliang-cn/docqa/pkg/embedder"
	"github.com/liliang-cn/docqa/pkg/extractor"
	"github.com/liliang-cn/docqa/pkg/history"
	"github.com/liliang-cn/docqa/pkg/llm"
	"github.com/liliang-cn/docqa/pkg/query"
	"github.com/liliang-cn/docqa/pkg/rag"
	"github.com/liliang-cn/docqa/pkg/vectorstore"
)

// Server wires the services behind the HTTP and WebSocket API.
type Server struct {
	config   *config.Config
	router   *gin.Engine
	server   *http.Server
	repo     *history.Repository
	pipeline *rag.Service
	llm      *llm.Service
	query    *query.Service
	wsHub    *websocket.Hub
	logger   zerolog.Logger
}

func NewServer(cfg *config.Config) (*Server, error) {
	if cfg.Server.Environment == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	logger := zlog.With().Str("component", "api-server").Logger()

	repo, err := history.NewRepository(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	emb, err := buildEmbedder(cfg)
	if err != nil {
		repo.Close()
		return nil, err
	}

	store, err := vectorstore.New(emb.Dimension(), emb.ModelName(),
		vectorstore.WithPersistence(cfg.IndexDir()),
		vectorstore.WithGPU(cfg.Embedder.UseGPU),
	)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	pipeline := rag.New(
		extractor.New(cfg.ProcessedDir()),
		chunker.New(cfg.Chunker.ChunkSize, cfg.Chunker.Overlap),
		emb,
		store,
	)

	llmService := llm.NewService(llm.Config{
		PreferLocal:  cfg.LLM.PreferLocal,
		LocalBaseURL: cfg.LLM.LocalBaseURL,
		LocalModel:   cfg.LLM.LocalModel,
		OpenAIAPIKey: cfg.LLM.OpenAIAPIKey,
		OpenAIModel:  cfg.LLM.OpenAIModel,
		GroqAPIKey:   cfg.LLM.GroqAPIKey,
		GroqModel:    cfg.LLM.GroqModel,
	})

	queryService := query.New(pipeline, llmService, repo, repo)

	s := &Server{
		config:   cfg,
		repo:     repo,
		pipeline: pipeline,
		llm:      llmService,
		query:    queryService,
		wsHub:    websocket.NewHub(),
		logger:   logger,
	}
	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// buildEmbedder picks the OpenAI embedder when a key is configured and
// the deterministic local embedder otherwise.
func buildEmbedder(cfg *config.Config) (domain.Embedder, error) {
	if cfg.Embedder.APIKey == "" {
		return embedder.NewLocalEmbedder(0), nil
	}

	cache, err := embedder.NewCache(cfg.EmbeddingCacheDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	emb, err := embedder.NewOpenAIEmbedder(
		cfg.Embedder.APIKey,
		cfg.Embedder.BaseURL,
		cfg.Embedder.Model,
		embedder.WithCache(cache),
		embedder.WithBatchSize(cfg.Embedder.BatchSize),
	)
	if err != nil {
		return nil, err
	}
	return emb, nil
}

func (s *Server) setupRouter() {
	if s.config.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.Metrics())

	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.setupRoutes()
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ready", s.handleReady)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	documentsHandler := handlers.NewDocumentsHandler(
		s.repo, s.pipeline, s.wsHub, s.config.UploadsDir(), s.config.Upload.MaxFileSize)
	queryHandler := handlers.NewQueryHandler(s.query, s.pipeline, s.llm, s.repo)
	analyticsHandler := handlers.NewAnalyticsHandler(s.repo)
	llmHandler := handlers.NewLLMHandler(s.llm)

	v1 := s.router.Group("/api/v1")

	documents := v1.Group("/documents")
	{
		documents.POST("/upload", documentsHandler.Upload)
		documents.GET("", documentsHandler.List)
		documents.GET("/rag-stats", documentsHandler.RagStats)
		documents.POST("/search", documentsHandler.Search)
		documents.POST("/reset-vector-store", documentsHandler.ResetVectorStore)
		documents.GET("/:id", documentsHandler.Get)
		documents.DELETE("/:id", documentsHandler.Delete)
		documents.GET("/:id/content", documentsHandler.Content)
		documents.GET("/:id/download", documentsHandler.Download)
	}

	queryGroup := v1.Group("/query")
	{
		queryGroup.POST("/ask", queryHandler.Ask)
		queryGroup.POST("/search", queryHandler.Search)
		queryGroup.GET("/history", queryHandler.History)
		queryGroup.GET("/status", queryHandler.Status)
		queryGroup.GET("/health", queryHandler.Health)
	}

	analytics := v1.Group("/analytics")
	{
		analytics.GET("/stats", analyticsHandler.Stats)
		analytics.GET("/popular-questions", analyticsHandler.PopularQuestions)
		analytics.GET("/query-trends", analyticsHandler.QueryTrends)
		analytics.GET("/llm-usage", analyticsHandler.LLMUsage)
	}

	llmGroup := v1.Group("/llm")
	{
		llmGroup.POST("/switch", llmHandler.Switch)
		llmGroup.GET("/status", llmHandler.Status)
	}

	v1.GET("/ws/:client_id", websocket.NewStreamHandler(s.wsHub, s.query))
}

// Start runs the server until an interrupt or SIGTERM arrives.
func (s *Server) Start() error {
	go s.wsHub.Run()
	go s.handleShutdown()

	s.logger.Info().
		Str("host", s.config.Server.Host).
		Int("port", s.config.Server.Port).
		Str("environment", s.config.Server.Environment).
		Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully drains connections and closes the stores.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Shutting down API server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.wsHub.Stop()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := s.repo.Close(); err != nil {
		return fmt.Errorf("failed to close history store: %w", err)
	}

	s.logger.Info().Msg("API server stopped")
	return nil
}

func (s *Server) handleShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := s.Stop(); err != nil {
		s.logger.Error().Err(err).Msg("Error during shutdown")
	}
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "docqa",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(c *gin.Context) {
	// Readiness needs the history store and the vector index; LLM
	// backends can come and go without making the process unready.
	if _, err := s.repo.CountDocuments(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ready":   false,
			"message": "history store not ready",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ready":        true,
		"message":      "ready",
		"index_chunks": s.pipeline.Stats()["total_chunks"],
	})
}
