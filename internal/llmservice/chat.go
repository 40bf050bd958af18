package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"studybot/internal/config"
)

// ChatGenerator sends the prompt to a model server over HTTP.
type ChatGenerator struct {
	llm     llms.Model
	timeout time.Duration
}

func NewChatGenerator(llmConfig *config.LLMConfig) (*ChatGenerator, error) {
	log.Debug().Str("provider", llmConfig.Provider).Str("base_url", llmConfig.BaseURL).Str("model", llmConfig.Model).Msg("Creating chat generator")

	var llm llms.Model
	var err error
	switch llmConfig.Provider {
	case config.ProviderOpenAI:
		llm, err = openai.New(
			openai.WithBaseURL(llmConfig.BaseURL),
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithModel(llmConfig.Model),
		)
	default:
		llm, err = ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	return NewChatGeneratorWithModel(llm, llmConfig.Timeout), nil
}

func NewChatGeneratorWithModel(llm llms.Model, timeout time.Duration) *ChatGenerator {
	return &ChatGenerator{llm: llm, timeout: timeout}
}

func (g *ChatGenerator) Generate(ctx context.Context, prompt string) string {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	msgContent := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	res, err := g.llm.GenerateContent(ctx, msgContent)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Warn().Dur("timeout", g.timeout).Msg("Model timed out")
			return MsgTimeout
		}
		if isOutOfMemory(err.Error()) {
			return MsgOutOfMemory
		}
		log.Error().Err(err).Msg("Model request failed")
		return fmt.Sprintf(msgUnexpected, err)
	}

	if res == nil || len(res.Choices) == 0 {
		return MsgNoResponse
	}
	content := strings.TrimSpace(res.Choices[0].Content)
	if content == "" {
		return MsgNoResponse
	}
	return content
}
