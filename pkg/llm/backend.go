// Package llm answers questions over retrieved context with an ordered
// set of generation backends and automatic fallback between them.
package llm

import (
	"context"
	"strings"

	"github.com/liliang-cn/docqa/pkg/domain"
)

// Backend names as reported in llm_used and accepted by SwitchPrimary.
const (
	BackendLocal  = "local"
	BackendOpenAI = "openai"
	BackendGroq   = "groq"
)

// answerMaxTokens caps completions regardless of what the caller asks for.
const answerMaxTokens = 512

// stopSequences are passed to backends that honor stop tokens.
var stopSequences = []string{"\n###", "\n##", "\n\n", "Question:", "User:", "###", "##"}

// Backend is one text-generation provider.
type Backend interface {
	Name() string
	Available() bool
	Generate(ctx context.Context, prompt string, opts *domain.GenerationOptions) (string, error)
	Stream(ctx context.Context, prompt string, opts *domain.GenerationOptions, callback func(string)) error
	Model() string
}

// Canned answers returned in place of errors, mirroring how the HTTP
// surface reports generation trouble to clients.
const (
	answerGenerationError = "I encountered an error while generating a response."
	answerNoProperAnswer  = "I couldn't generate a proper response based on the provided context."
	answerTimeout         = "The request timed out. Please try again."
)

// answerLooksBroken detects canned failure answers so the fallback chain
// treats them as misses instead of passing them to the user.
func answerLooksBroken(answer string) bool {
	lower := strings.ToLower(answer)
	return answer == "" ||
		strings.Contains(lower, "encountered an error") ||
		strings.Contains(lower, "couldn't generate")
}

// clampOptions bounds generation parameters to safe ranges.
func clampOptions(opts *domain.GenerationOptions) *domain.GenerationOptions {
	out := &domain.GenerationOptions{
		MaxTokens:   answerMaxTokens,
		Temperature: 0.3,
		Stop:        stopSequences,
	}
	if opts != nil {
		if opts.MaxTokens > 0 && opts.MaxTokens < answerMaxTokens {
			out.MaxTokens = opts.MaxTokens
		}
		if opts.Temperature >= 0 {
			out.Temperature = opts.Temperature
		}
		if out.Temperature > 1 {
			out.Temperature = 1
		}
		if len(opts.Stop) > 0 {
			out.Stop = opts.Stop
		}
	}
	return out
}
