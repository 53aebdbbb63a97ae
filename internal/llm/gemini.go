package llm

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"

	cozyerrors "github.com/hpungsan/cozytriage/internal/errors"
)

// GeminiClient talks to the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGemini builds a client for the given model. The API key is read from
// GEMINI_API_KEY.
func NewGemini(ctx context.Context, model string) (*GeminiClient, error) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY must be set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string { return c.model }

// Complete sends one system+user exchange and returns the text reply.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	temp := float32(0.2)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}

	res, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", cozyerrors.NewLLMFailure("gemini", err)
	}
	out := res.Text()
	if out == "" {
		return "", cozyerrors.NewLLMFailure("gemini", fmt.Errorf("empty completion from %s", c.model))
	}
	return out, nil
}
