package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecombot/internal/config"
)

func TestNewChatModelProviders(t *testing.T) {
	ctx := context.Background()
	for _, provider := range []string{"groq", "openai", "claude"} {
		t.Run(provider, func(t *testing.T) {
			cm, err := NewChatModel(ctx, config.ModelConfig{
				Provider:    provider,
				Name:        "test-model",
				Temperature: 0.5,
				APIKey:      "test-key",
			})
			require.NoError(t, err)
			assert.NotNil(t, cm)
		})
	}
}

func TestNewChatModelRejectsBadConfig(t *testing.T) {
	ctx := context.Background()

	_, err := NewChatModel(ctx, config.ModelConfig{Provider: "groq", Name: "m"})
	assert.Error(t, err, "missing key")

	_, err = NewChatModel(ctx, config.ModelConfig{Provider: "groq", APIKey: "k"})
	assert.Error(t, err, "missing model name")

	_, err = NewChatModel(ctx, config.ModelConfig{Provider: "mystery", Name: "m", APIKey: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid provider")
}

func TestNewEmbedder(t *testing.T) {
	ctx := context.Background()

	_, err := NewEmbedder(ctx, config.EmbeddingConfig{Model: "text-embedding-3-small", APIKeyEnv: "OPENAI_API_KEY"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")

	emb, err := NewEmbedder(ctx, config.EmbeddingConfig{
		BaseURL: "https://api.openai.com/v1",
		Model:   "text-embedding-3-small",
		APIKey:  "k",
	})
	require.NoError(t, err)
	assert.NotNil(t, emb)
}
