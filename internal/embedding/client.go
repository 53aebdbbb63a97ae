// Package embedding provides vector embedding clients for similarity
// search. Documents are embedded at write time, queries at search time;
// providers that distinguish the two get told which side a text is on.
package embedding

import (
	"context"
	"fmt"

	"github.com/hpungsan/cozytriage/internal/config"
)

// Client produces fixed-dimension embeddings.
type Client interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Model() string
}

// Provider names accepted in config.
const (
	ProviderVoyage = "voyage"
	ProviderGemini = "gemini"
	ProviderMock   = "mock"
)

// New builds the embedding client named by cfg.EmbeddingProvider. API keys
// come from the environment, never from config files.
func New(ctx context.Context, cfg *config.Config) (Client, error) {
	switch cfg.EmbeddingProvider {
	case ProviderVoyage:
		return NewVoyage(cfg.EmbeddingModel, cfg.EmbeddingDim)
	case ProviderGemini:
		return NewGeminiEmbedder(ctx, cfg.EmbeddingModel, cfg.EmbeddingDim)
	case ProviderMock:
		return NewMockClient(cfg.EmbeddingDim), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}
