package embedder

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/liliang-cn/docqa/pkg/domain"
)

// OpenAIEmbedder embeds text through the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
	batchSize int
	cache     *Cache
}

type OpenAIOption func(*OpenAIEmbedder)

// WithCache adds an on-disk cache in front of the API.
func WithCache(cache *Cache) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.cache = cache }
}

// WithBatchSize overrides the batch size used by EmbedBatch.
func WithBatchSize(n int) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func NewOpenAIEmbedder(apiKey, baseURL, model string, opts ...OpenAIOption) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key", domain.ErrConfigurationError)
	}
	if model == "" {
		model = "text-embedding-3-small"
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}

	e := &OpenAIEmbedder{
		client:    openai.NewClient(clientOpts...),
		model:     model,
		dimension: dimensionForModel(model),
		batchSize: 32,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func dimensionForModel(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	case "text-embedding-ada-002", "text-embedding-3-small":
		return 1536
	default:
		return 1536
	}
}

func (e *OpenAIEmbedder) Dimension() int    { return e.dimension }
func (e *OpenAIEmbedder) ModelName() string { return e.model }

// Embed returns the unit-norm embedding for one passage.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", domain.ErrInvalidInput)
	}

	if e.cache != nil {
		if vec, ok := e.cache.Get(text); ok {
			return vec, nil
		}
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	}

	embedding, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
	}
	if len(embedding.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding data returned", domain.ErrEmbeddingFailed)
	}

	vec := make([]float32, len(embedding.Data[0].Embedding))
	for i, v := range embedding.Data[0].Embedding {
		vec[i] = float32(v)
	}
	vec = normalize(vec)

	if e.cache != nil {
		e.cache.Put(text, vec)
	}
	return vec, nil
}

// EmbedQuery embeds a search query with the retrieval prefix.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.Embed(ctx, queryPrefix+text)
}

// EmbedBatch embeds passages in API batches, serving cached entries
// without a network call.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("%w: empty text at index %d", domain.ErrInvalidInput, i)
		}
		if e.cache != nil {
			if vec, ok := e.cache.Get(text); ok {
				out[i] = vec
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	for start := 0; start < len(missing); start += e.batchSize {
		end := start + e.batchSize
		if end > len(missing) {
			end = len(missing)
		}

		params := openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(e.model),
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: missing[start:end],
			},
		}

		embedding, err := e.client.Embeddings.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
		}
		if len(embedding.Data) != end-start {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", domain.ErrEmbeddingFailed, end-start, len(embedding.Data))
		}

		for j, data := range embedding.Data {
			vec := make([]float32, len(data.Embedding))
			for k, v := range data.Embedding {
				vec[k] = float32(v)
			}
			vec = normalize(vec)
			idx := missingIdx[start+j]
			out[idx] = vec
			if e.cache != nil {
				e.cache.Put(texts[idx], vec)
			}
		}
	}

	return out, nil
}

// Health embeds a single token to verify the API is reachable.
func (e *OpenAIEmbedder) Health(ctx context.Context) error {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String("test"),
		},
	}
	if _, err := e.client.Embeddings.New(ctx, params); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	return nil
}
