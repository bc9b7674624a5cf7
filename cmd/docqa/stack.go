package docqa

import (
	"fmt"

	"github.com/liliang-cn/docqa/pkg/chunker"
	"github.com/liliang-cn/docqa/pkg/config"
	"github.com/liliang-cn/docqa/pkg/domain"
	"github.com/liliang-cn/docqa/pkg/embedder"
	"github.com/liliang-cn/docqa/pkg/extractor"
	"github.com/liliang-cn/docqa/pkg/history"
	"github.com/liliang-cn/docqa/pkg/rag"
	"github.com/liliang-cn/docqa/pkg/vectorstore"
)

// stack is the service wiring shared by the offline CLI commands.
type stack struct {
	repo     *history.Repository
	pipeline *rag.Service
}

func newStack(cfg *config.Config) (*stack, error) {
	repo, err := history.NewRepository(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	emb, err := newEmbedder(cfg)
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

	return &stack{repo: repo, pipeline: pipeline}, nil
}

func newEmbedder(cfg *config.Config) (domain.Embedder, error) {
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

func (s *stack) Close() {
	if err := s.repo.Close(); err != nil {
		fmt.Printf("Warning: failed to close history store: %v\n", err)
	}
}
