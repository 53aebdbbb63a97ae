// Package llm provides single-exchange completion clients for the triage
// passes. Adapters return raw text; parsing and contract validation happen
// in the triage package.
package llm

import (
	"context"
	"fmt"

	"github.com/hpungsan/cozytriage/internal/config"
)

// Request is one completion exchange.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Client sends one completion request and returns the raw text reply.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Model() string
}

// Provider names accepted in config.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderMock      = "mock"
)

// New builds the completion client named by cfg.LLMProvider. API keys come
// from the environment, never from config files.
func New(ctx context.Context, cfg *config.Config) (Client, error) {
	switch cfg.LLMProvider {
	case ProviderAnthropic:
		return NewAnthropic(cfg.LLMModel)
	case ProviderGemini:
		return NewGemini(ctx, cfg.LLMModel)
	case ProviderMock:
		return NewCannedMock(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}
