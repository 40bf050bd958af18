package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"

	"studybot/internal/config"
)

type fakeClient struct {
	texts  []string
	vector []float32
	err    error
}

func (c *fakeClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	c.texts = append(c.texts, texts...)
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = c.vector
	}
	return out, nil
}

func TestEmbeddingFunc(t *testing.T) {
	client := &fakeClient{vector: []float32{0.6, 0.8}}
	embedder, err := embeddings.NewEmbedder(client)
	require.NoError(t, err)

	vector, err := EmbeddingFunc(embedder)(context.Background(), "what is osmosis?")
	require.NoError(t, err)

	assert.Equal(t, []float32{0.6, 0.8}, vector)
	assert.Equal(t, []string{"what is osmosis?"}, client.texts)
}

func TestEmbeddingFuncErrors(t *testing.T) {
	failing, err := embeddings.NewEmbedder(&fakeClient{err: errors.New("connection refused")})
	require.NoError(t, err)
	_, err = EmbeddingFunc(failing)(context.Background(), "text")
	assert.ErrorContains(t, err, "connection refused")

	empty, err := embeddings.NewEmbedder(&fakeClient{})
	require.NoError(t, err)
	_, err = EmbeddingFunc(empty)(context.Background(), "text")
	assert.ErrorIs(t, err, errEmptyEmbedding)
}

func TestNewEmbedder(t *testing.T) {
	for _, provider := range []string{config.ProviderOllama, config.ProviderOpenAI} {
		t.Run(provider, func(t *testing.T) {
			embedder, err := NewEmbedder(&config.LLMConfig{
				Provider: provider,
				BaseURL:  "http://localhost:11434",
				Key:      "Bearer test-key",
				Model:    "nomic-embed-text",
			})
			require.NoError(t, err)
			assert.NotNil(t, embedder)
		})
	}

	_, err := NewEmbedder(&config.LLMConfig{Provider: "gemini"})
	assert.Error(t, err)
}
