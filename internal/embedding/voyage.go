package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	cozyerrors "github.com/hpungsan/cozytriage/internal/errors"
)

const voyageEndpoint = "https://api.voyageai.com/v1/embeddings"

// Input types the Voyage API distinguishes.
const (
	voyageInputDocument = "document"
	voyageInputQuery    = "query"
)

// VoyageClient calls the Voyage AI embeddings API.
type VoyageClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
	dim        int
}

// NewVoyage builds a client for the given model. The API key is read from
// VOYAGE_API_KEY.
func NewVoyage(model string, dim int) (*VoyageClient, error) {
	key := os.Getenv("VOYAGE_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("VOYAGE_API_KEY must be set")
	}
	return &VoyageClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoint:   voyageEndpoint,
		apiKey:     key,
		model:      model,
		dim:        dim,
	}, nil
}

// Dimension returns the expected vector width.
func (c *VoyageClient) Dimension() int { return c.dim }

// Model returns the configured model name.
func (c *VoyageClient) Model() string { return c.model }

// EmbedDocuments embeds texts for storage.
func (c *VoyageClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embed(ctx, texts, voyageInputDocument)
}

// EmbedQuery embeds one text for search.
func (c *VoyageClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embed(ctx, []string{text}, voyageInputQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

type voyageRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *VoyageClient) embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(voyageRequest{Input: texts, Model: c.model, InputType: inputType})
	if err != nil {
		return nil, cozyerrors.NewEmbeddingFailure("voyage", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, cozyerrors.NewEmbeddingFailure("voyage", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, cozyerrors.NewEmbeddingFailure("voyage", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, cozyerrors.NewEmbeddingFailure("voyage", fmt.Errorf("status %d: %s", resp.StatusCode, snippet))
	}

	var parsed voyageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, cozyerrors.NewEmbeddingFailure("voyage", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, cozyerrors.NewEmbeddingFailure("voyage",
			fmt.Errorf("got %d embeddings for %d inputs", len(parsed.Data), len(texts)))
	}

	// The API may answer out of order; Index says which input each vector
	// belongs to.
	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, cozyerrors.NewEmbeddingFailure("voyage", fmt.Errorf("embedding index %d out of range", d.Index))
		}
		if len(d.Embedding) != c.dim {
			return nil, cozyerrors.NewEmbeddingFailure("voyage",
				fmt.Errorf("embedding dimension %d, want %d", len(d.Embedding), c.dim))
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, cozyerrors.NewEmbeddingFailure("voyage", fmt.Errorf("missing embedding for input %d", i))
		}
	}
	return out, nil
}
