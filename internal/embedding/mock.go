package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	cozyerrors "github.com/hpungsan/cozytriage/internal/errors"
)

// MockClient produces deterministic vectors by hashing tokens into slots
// and normalizing. Identical text always embeds to the same vector, texts
// sharing tokens land near each other, so similarity ordering is stable
// across runs without any network.
type MockClient struct {
	dim int

	mu        sync.Mutex
	err       error
	documents []string
	queries   []string
}

// NewMockClient returns a deterministic in-process embedder.
func NewMockClient(dim int) *MockClient {
	if dim <= 0 {
		dim = 8
	}
	return &MockClient{dim: dim}
}

// SetErr makes every subsequent call fail with an EMBEDDING_FAILURE
// wrapping err. Pass nil to clear.
func (m *MockClient) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Dimension returns the vector width.
func (m *MockClient) Dimension() int { return m.dim }

// Model implements Client.
func (m *MockClient) Model() string { return "mock-embedder" }

// EmbedDocuments implements Client.
func (m *MockClient) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, cozyerrors.NewEmbeddingFailure("mock", m.err)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		m.documents = append(m.documents, t)
		out[i] = m.vector(t)
	}
	return out, nil
}

// EmbedQuery implements Client.
func (m *MockClient) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, cozyerrors.NewEmbeddingFailure("mock", m.err)
	}
	m.queries = append(m.queries, text)
	return m.vector(text), nil
}

// Documents returns every text embedded as a document so far.
func (m *MockClient) Documents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.documents))
	copy(out, m.documents)
	return out
}

// Queries returns every text embedded as a query so far.
func (m *MockClient) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.queries))
	copy(out, m.queries)
	return out
}

func (m *MockClient) vector(text string) []float32 {
	v := make([]float32, m.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		v[int(h.Sum32())%m.dim]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
