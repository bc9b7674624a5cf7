package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/liliang-cn/docqa/pkg/domain"
	"github.com/liliang-cn/docqa/pkg/log"
)

// contextBudget caps the characters of retrieved text placed in a prompt.
const contextBudget = 3500

const ragPromptTemplate = `Based on the following context information, please provide a comprehensive and accurate answer to the question. If the context doesn't contain sufficient information to answer the question completely, please state what you can determine from the context and clearly indicate what information is missing.

CONTEXT:
%s

QUESTION: %s

INSTRUCTIONS:
- Provide a clear, direct answer based only on the information in the context
- If you cannot find the answer in the context, say "I don't have enough information in the provided context to answer this question"
- Be specific and cite relevant details from the context when possible (e.g., [Source X: Document Name])
- Keep your answer focused and concise

ANSWER:`

// Service routes generation across backends in priority order, falling
// through on failures and on canned error answers.
type Service struct {
	mu          sync.RWMutex
	backends    map[string]Backend
	preferLocal bool
	primary     string // explicit override from SwitchPrimary, may be empty
}

type Config struct {
	PreferLocal  bool
	LocalBaseURL string
	LocalModel   string
	OpenAIAPIKey string
	OpenAIModel  string
	GroqAPIKey   string
	GroqModel    string
}

func NewService(cfg Config) *Service {
	s := &Service{
		backends:    make(map[string]Backend),
		preferLocal: cfg.PreferLocal,
	}

	s.backends[BackendLocal] = NewLocalBackend(cfg.LocalBaseURL, cfg.LocalModel)
	if cfg.OpenAIAPIKey != "" {
		s.backends[BackendOpenAI] = NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	}
	if cfg.GroqAPIKey != "" {
		s.backends[BackendGroq] = NewGroqBackend(cfg.GroqAPIKey, cfg.GroqModel)
	}
	return s
}

// NewServiceWithBackends wires explicit backends, first listed being most
// preferred unless preferLocal reorders.
func NewServiceWithBackends(preferLocal bool, backends ...Backend) *Service {
	s := &Service{
		backends:    make(map[string]Backend),
		preferLocal: preferLocal,
	}
	for _, b := range backends {
		s.backends[b.Name()] = b
	}
	return s
}

// priority returns backend names most preferred first. Hosted backends
// come before local unless the service prefers local, and an explicit
// SwitchPrimary choice always leads.
func (s *Service) priority() []string {
	rank := func(name string) int {
		if s.preferLocal {
			switch name {
			case BackendLocal:
				return 0
			case BackendOpenAI:
				return 1
			default:
				return 2
			}
		}
		switch name {
		case BackendGroq:
			return 0
		case BackendOpenAI:
			return 1
		default:
			return 2
		}
	}

	names := make([]string, 0, len(s.backends))
	for name := range s.backends {
		names = append(names, name)
	}
	sort.Slice(names, func(a, b int) bool { return rank(names[a]) < rank(names[b]) })

	if s.primary != "" {
		reordered := []string{s.primary}
		for _, name := range names {
			if name != s.primary {
				reordered = append(reordered, name)
			}
		}
		names = reordered
	}
	return names
}

// GenerateAnswer builds the RAG prompt from the retrieved chunks and asks
// backends in priority order. It returns the answer and the backend that
// produced it; when every backend is unavailable or fails it returns
// ErrServiceUnavailable so the query pipeline can surface its failure
// response.
func (s *Service) GenerateAnswer(ctx context.Context, chunks []domain.SearchResult, question string, maxTokens int, temperature float64) (string, string, error) {
	if len(chunks) == 0 {
		return "", "", fmt.Errorf("%w: no context chunks", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(question) == "" {
		return "", "", fmt.Errorf("%w: empty question", domain.ErrInvalidInput)
	}

	contextText := buildContext(chunks, contextBudget)
	prompt := fmt.Sprintf(ragPromptTemplate, contextText, question)
	opts := &domain.GenerationOptions{MaxTokens: maxTokens, Temperature: temperature}

	s.mu.RLock()
	order := s.priority()
	s.mu.RUnlock()

	for _, name := range order {
		backend := s.backend(name)
		if backend == nil || !backend.Available() {
			continue
		}

		answer, err := backend.Generate(ctx, prompt, opts)
		if err != nil {
			log.Warnf("backend %s failed: %v", name, err)
			continue
		}
		if answerLooksBroken(answer) {
			log.Warnf("backend %s returned an error-like answer, trying next", name)
			continue
		}
		return strings.TrimSpace(answer), name, nil
	}

	return "", "", fmt.Errorf("%w: no backend could generate an answer", domain.ErrServiceUnavailable)
}

// StreamAnswer builds the RAG prompt and streams token deltas from the
// first backend that can serve it.
func (s *Service) StreamAnswer(ctx context.Context, chunks []domain.SearchResult, question string, opts *domain.GenerationOptions, callback func(string)) (string, error) {
	if len(chunks) == 0 {
		return "", fmt.Errorf("%w: no context chunks", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("%w: empty question", domain.ErrInvalidInput)
	}

	prompt := fmt.Sprintf(ragPromptTemplate, buildContext(chunks, contextBudget), question)
	return s.Stream(ctx, prompt, opts, callback)
}

// Stream sends token deltas from the first available backend.
func (s *Service) Stream(ctx context.Context, prompt string, opts *domain.GenerationOptions, callback func(string)) (string, error) {
	s.mu.RLock()
	order := s.priority()
	s.mu.RUnlock()

	for _, name := range order {
		backend := s.backend(name)
		if backend == nil || !backend.Available() {
			continue
		}
		if err := backend.Stream(ctx, prompt, opts, callback); err != nil {
			log.Warnf("backend %s stream failed: %v", name, err)
			continue
		}
		return name, nil
	}
	return "", fmt.Errorf("%w: no backend could stream", domain.ErrServiceUnavailable)
}

func (s *Service) backend(name string) Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backends[name]
}

// SwitchPrimary makes the named backend the first choice for subsequent
// generations. The backend must exist and be reachable.
func (s *Service) SwitchPrimary(name string) error {
	backend := s.backend(name)
	if backend == nil {
		return fmt.Errorf("%w: unknown backend %q", domain.ErrInvalidInput, name)
	}
	if !backend.Available() {
		return fmt.Errorf("%w: backend %q", domain.ErrServiceUnavailable, name)
	}

	s.mu.Lock()
	s.primary = name
	s.mu.Unlock()
	log.Infof("switched primary LLM to %s", name)
	return nil
}

// Status reports each backend's model and reachability plus the current
// priority order.
func (s *Service) Status() map[string]interface{} {
	s.mu.RLock()
	order := s.priority()
	s.mu.RUnlock()

	status := make(map[string]interface{})
	for name, backend := range s.snapshot() {
		status[name] = map[string]interface{}{
			"available": backend.Available(),
			"model":     backend.Model(),
		}
	}

	primary := ""
	if len(order) > 0 {
		primary = order[0]
	}
	status["primary_llm"] = primary
	status["priority"] = order
	return status
}

func (s *Service) snapshot() map[string]Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Backend, len(s.backends))
	for k, v := range s.backends {
		out[k] = v
	}
	return out
}

// buildContext packs the highest scoring chunks into "[Source i: name]"
// blocks joined by blank lines, never exceeding maxLength characters.
// Truncation happens at block granularity so no chunk is cut mid-text.
func buildContext(chunks []domain.SearchResult, maxLength int) string {
	sorted := make([]domain.SearchResult, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Score > sorted[b].Score })

	var parts []string
	length := 0
	for i, chunk := range sorted {
		text := strings.TrimSpace(chunk.Text)
		if text == "" {
			continue
		}

		name := chunk.DocumentName
		if name == "" {
			name = "Unknown"
		}
		block := fmt.Sprintf("[Source %d: %s]\n%s", i+1, name, text)

		if length+len(block)+2 > maxLength {
			break
		}
		parts = append(parts, block)
		length += len(block) + 2
	}
	return strings.Join(parts, "\n\n")
}
