package embedding

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"

	cozyerrors "github.com/hpungsan/cozytriage/internal/errors"
)

// Task types the Gemini embedding API distinguishes.
const (
	geminiTaskDocument = "RETRIEVAL_DOCUMENT"
	geminiTaskQuery    = "RETRIEVAL_QUERY"
)

// GeminiEmbedder calls the Gemini embedding API.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	dim    int
}

// NewGeminiEmbedder builds a client for the given model. The API key is
// read from GEMINI_API_KEY.
func NewGeminiEmbedder(ctx context.Context, model string, dim int) (*GeminiEmbedder, error) {
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
	return &GeminiEmbedder{client: client, model: model, dim: dim}, nil
}

// Dimension returns the expected vector width.
func (c *GeminiEmbedder) Dimension() int { return c.dim }

// Model returns the configured model name.
func (c *GeminiEmbedder) Model() string { return c.model }

// EmbedDocuments embeds texts for storage.
func (c *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embed(ctx, texts, geminiTaskDocument)
}

// EmbedQuery embeds one text for search.
func (c *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embed(ctx, []string{text}, geminiTaskQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *GeminiEmbedder) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	dim := int32(c.dim)
	cfg := &genai.EmbedContentConfig{
		TaskType:             taskType,
		OutputDimensionality: &dim,
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	res, err := c.client.Models.EmbedContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, cozyerrors.NewEmbeddingFailure("gemini", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, cozyerrors.NewEmbeddingFailure("gemini",
			fmt.Errorf("got %d embeddings for %d inputs", len(res.Embeddings), len(texts)))
	}

	out := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		if len(e.Values) != c.dim {
			return nil, cozyerrors.NewEmbeddingFailure("gemini",
				fmt.Errorf("embedding dimension %d, want %d", len(e.Values), c.dim))
		}
		out[i] = e.Values
	}
	return out, nil
}
