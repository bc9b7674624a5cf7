package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/liliang-cn/docqa/pkg/domain"
)

const openaiSystemPrompt = "You are a helpful assistant that answers questions accurately based on provided context. If you don't know the answer, say so clearly."

// OpenAIBackend generates answers through the OpenAI chat API.
type OpenAIBackend struct {
	client openai.Client
	model  string

	healthMu   sync.Mutex
	healthAt   time.Time
	healthOK   bool
	hasChecked bool
}

func NewOpenAIBackend(apiKey, model string) *OpenAIBackend {
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	var client openai.Client
	if apiKey != "" {
		client = openai.NewClient(option.WithAPIKey(apiKey))
	}
	b := &OpenAIBackend{client: client, model: model}
	if apiKey == "" {
		b.hasChecked = true
		b.healthOK = false
		b.healthAt = time.Now().Add(24 * time.Hour)
	}
	return b
}

func (b *OpenAIBackend) Name() string  { return BackendOpenAI }
func (b *OpenAIBackend) Model() string { return b.model }

// Available checks the API with a one-token completion, caching the
// result for a minute so the hot path never blocks on a probe.
func (b *OpenAIBackend) Available() bool {
	b.healthMu.Lock()
	defer b.healthMu.Unlock()

	if b.hasChecked && time.Since(b.healthAt) < time.Minute {
		return b.healthOK
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(b.model),
		Messages:            []openai.ChatCompletionMessageParamUnion{openai.UserMessage("Hello")},
		MaxCompletionTokens: openai.Int(1),
	})

	b.hasChecked = true
	b.healthAt = time.Now()
	b.healthOK = err == nil
	return b.healthOK
}

func (b *OpenAIBackend) params(prompt string, opts *domain.GenerationOptions) openai.ChatCompletionNewParams {
	opts = clampOptions(opts)
	return openai.ChatCompletionNewParams{
		Model: shared.ChatModel(b.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(openaiSystemPrompt),
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(int64(opts.MaxTokens)),
		Temperature:         openai.Float(opts.Temperature),
		TopP:                openai.Float(0.95),
		FrequencyPenalty:    openai.Float(0.1),
		PresencePenalty:     openai.Float(0.1),
	}
}

func (b *OpenAIBackend) Generate(ctx context.Context, prompt string, opts *domain.GenerationOptions) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", domain.ErrInvalidInput)
	}

	completion, err := b.client.Chat.Completions.New(ctx, b.params(prompt, opts))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty completion", domain.ErrGenerationFailed)
	}
	return completion.Choices[0].Message.Content, nil
}

func (b *OpenAIBackend) Stream(ctx context.Context, prompt string, opts *domain.GenerationOptions, callback func(string)) error {
	if prompt == "" {
		return fmt.Errorf("%w: empty prompt", domain.ErrInvalidInput)
	}
	if callback == nil {
		return fmt.Errorf("%w: nil callback", domain.ErrInvalidInput)
	}

	stream := b.client.Chat.Completions.NewStreaming(ctx, b.params(prompt, opts))
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			callback(chunk.Choices[0].Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	return nil
}
