package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"studybot/internal/models"
)

// NumRelevantChunks is how many chunks are put into the prompt by default.
const NumRelevantChunks = 3

type ContextAssembler struct {
	store VectorStore
	topK  int
}

func NewContextAssembler(store VectorStore, topK int) *ContextAssembler {
	if topK <= 0 {
		topK = NumRelevantChunks
	}
	return &ContextAssembler{store: store, topK: topK}
}

// Retrieve joins the texts of the chunks closest to question with newlines.
// An empty store yields an empty context, not an error.
func (a *ContextAssembler) Retrieve(ctx context.Context, question string) (string, error) {
	docs, err := a.store.Query(ctx, question, a.topK)
	if err != nil {
		return "", fmt.Errorf("failed to query vector store: %w", err)
	}
	log.Debug().Int("chunks", len(docs)).Msg("Retrieved context")
	return strings.Join(docs, models.ContextSeparator), nil
}
