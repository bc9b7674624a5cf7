package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/liliang-cn/docqa/pkg/domain"
	"github.com/liliang-cn/docqa/pkg/log"
)

// LocalBackend talks to an Ollama-compatible server. Its raw completions
// need cleanup that hosted chat models do not, so answers pass through
// postProcessAnswer before they are returned.
type LocalBackend struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewLocalBackend(baseURL, model string) *LocalBackend {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	return &LocalBackend{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (b *LocalBackend) Name() string  { return BackendLocal }
func (b *LocalBackend) Model() string { return b.model }

// Available probes the server's tag listing with a short timeout.
func (b *LocalBackend) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", b.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (b *LocalBackend) options(opts *domain.GenerationOptions) map[string]interface{} {
	opts = clampOptions(opts)
	return map[string]interface{}{
		"num_predict":    opts.MaxTokens,
		"temperature":    opts.Temperature,
		"top_p":          0.95,
		"repeat_penalty": 1.1,
		"stop":           opts.Stop,
	}
}

// Generate runs a completion and post-processes the raw model output.
// Failures come back as a canned answer, not an error, so the caller's
// fallback chain treats them uniformly.
func (b *LocalBackend) Generate(ctx context.Context, prompt string, opts *domain.GenerationOptions) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   b.model,
		Prompt:  prompt,
		Stream:  false,
		Options: b.options(opts),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		log.Errf("local generation request failed: %v", err)
		return answerGenerationError, nil
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Errf("local generation error %d: %s", resp.StatusCode, string(respBody))
		return answerGenerationError, nil
	}

	var genResp ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if genResp.Error != "" {
		log.Errf("local generation error: %s", genResp.Error)
		return answerGenerationError, nil
	}

	answer := postProcessAnswer(genResp.Response, prompt)
	if len(answer) < 5 {
		return answerNoProperAnswer, nil
	}
	return answer, nil
}

// Stream emits deltas as the server produces them. No post-processing is
// applied mid-stream; callers wanting the cleaned answer use Generate.
func (b *LocalBackend) Stream(ctx context.Context, prompt string, opts *domain.GenerationOptions, callback func(string)) error {
	if callback == nil {
		return fmt.Errorf("%w: nil callback", domain.ErrInvalidInput)
	}

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   b.model,
		Prompt:  prompt,
		Stream:  true,
		Options: b.options(opts),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", domain.ErrGenerationFailed, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var chunk ollamaGenerateResponse
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return fmt.Errorf("%w: %s", domain.ErrGenerationFailed, chunk.Error)
		}
		if chunk.Response != "" {
			callback(chunk.Response)
		}
		if chunk.Done {
			break
		}
	}
	return scanner.Err()
}
