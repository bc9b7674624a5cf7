package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/liliang-cn/docqa/pkg/domain"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

const groqSystemPrompt = "You are an expert assistant that provides accurate, concise answers based on given context. If the context doesn't contain enough information to answer the question, clearly state that you don't know."

// groqTimeout bounds a single Groq request. A timeout is reported as a
// canned answer rather than an error: the user gets an actionable message
// and the fallback chain still treats it as a miss.
const groqTimeout = 60 * time.Second

// GroqBackend uses Groq's OpenAI-compatible chat API.
type GroqBackend struct {
	client openai.Client
	model  string
	apiKey string

	healthMu   sync.Mutex
	healthAt   time.Time
	healthOK   bool
	hasChecked bool
}

func NewGroqBackend(apiKey, model string) *GroqBackend {
	if model == "" {
		model = "llama-3.1-8b-instant"
	}
	b := &GroqBackend{
		model:  model,
		apiKey: apiKey,
	}
	if apiKey != "" {
		b.client = openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(groqBaseURL),
		)
	} else {
		b.hasChecked = true
		b.healthOK = false
		b.healthAt = time.Now().Add(24 * time.Hour)
	}
	return b
}

func (b *GroqBackend) Name() string  { return BackendGroq }
func (b *GroqBackend) Model() string { return b.model }

func (b *GroqBackend) Available() bool {
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

func (b *GroqBackend) params(prompt string, opts *domain.GenerationOptions) openai.ChatCompletionNewParams {
	opts = clampOptions(opts)
	return openai.ChatCompletionNewParams{
		Model: shared.ChatModel(b.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(groqSystemPrompt),
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(int64(opts.MaxTokens)),
		Temperature:         openai.Float(opts.Temperature),
		TopP:                openai.Float(0.95),
		FrequencyPenalty:    openai.Float(0.1),
		PresencePenalty:     openai.Float(0.1),
	}
}

func (b *GroqBackend) Generate(ctx context.Context, prompt string, opts *domain.GenerationOptions) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", domain.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, groqTimeout)
	defer cancel()

	completion, err := b.client.Chat.Completions.New(ctx, b.params(prompt, opts))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return answerTimeout, nil
		}
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty completion", domain.ErrGenerationFailed)
	}
	return completion.Choices[0].Message.Content, nil
}

func (b *GroqBackend) Stream(ctx context.Context, prompt string, opts *domain.GenerationOptions, callback func(string)) error {
	if prompt == "" {
		return fmt.Errorf("%w: empty prompt", domain.ErrInvalidInput)
	}
	if callback == nil {
		return fmt.Errorf("%w: nil callback", domain.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, groqTimeout)
	defer cancel()

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
