package llmservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"studybot/internal/config"
)

// Replies used when the model cannot produce an answer. They are returned as
// the answer itself so callers have a single reply channel.
const (
	MsgNoResponse   = "No response from model."
	MsgOutOfMemory  = "Error: Not enough memory to run the model. Close other programs or reduce context size."
	MsgTimeout      = "Error: model request timed out."
	msgProcessError = "Error: model process returned an error. Details: %s"
	msgUnexpected   = "Unexpected error: %v"
)

// outOfMemoryMarker is what ollama prints when the model does not fit.
const outOfMemoryMarker = "requires more system memory"

// Generator answers a complete prompt. It never fails: every error is folded
// into the returned reply.
type Generator interface {
	Generate(ctx context.Context, prompt string) string
}

// NewGenerator builds the backend selected by llmConfig.Provider.
func NewGenerator(llmConfig *config.LLMConfig) (Generator, error) {
	switch llmConfig.Provider {
	case config.ProviderExec, "":
		return NewExecGenerator(llmConfig.Command, llmConfig.Args, llmConfig.Timeout), nil
	case config.ProviderOllama, config.ProviderOpenAI:
		return NewChatGenerator(llmConfig)
	default:
		return nil, fmt.Errorf("unknown inference provider %q", llmConfig.Provider)
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func isOutOfMemory(diagnostic string) bool {
	return strings.Contains(strings.ToLower(diagnostic), outOfMemoryMarker)
}
