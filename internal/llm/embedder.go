package llm

import (
	"context"
	"errors"
	"fmt"

	openaiemb "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"ecombot/internal/config"
)

// NewEmbedder builds the query embedder for an OpenAI-compatible embeddings endpoint.
// It must be the same model the passages were indexed with.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding api key is required (%s)", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	emb, err := openaiemb.NewEmbedder(ctx, &openaiemb.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: requestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	return emb, nil
}
