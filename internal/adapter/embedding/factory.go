package embedding

import (
	"context"
	"fmt"

	"campusbot/config"
	"campusbot/internal/port"
)

// New builds the embedder selected by cfg.Provider. cfg.Dimension sizes the
// hash embedder and, when positive, is requested from remote models.
func New(ctx context.Context, cfg config.EmbeddingConfig) (port.Embedder, error) {
	switch cfg.Provider {
	case "hash", "":
		return NewHashEmbedder(cfg.Dimension), nil
	case "ollama":
		return NewOllamaEmbedder(cfg.Model, cfg.BaseURL, cfg.Dimension)
	case "openai":
		return NewOpenAICompatibleEmbedder(cfg.APIKeyEnv, cfg.Model, cfg.BaseURL, cfg.Dimension)
	case "genai", "gemini":
		return NewGenAIEmbedder(ctx, cfg.APIKeyEnv, cfg.Model, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
