package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hpungsan/cozytriage/internal/config"
	cozyerrors "github.com/hpungsan/cozytriage/internal/errors"
)

func TestMockClient_Deterministic(t *testing.T) {
	m := NewMockClient(16)
	ctx := context.Background()

	a1, err := m.EmbedQuery(ctx, "renew the passport")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	a2, err := m.EmbedQuery(ctx, "renew the passport")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if len(a1) != 16 {
		t.Fatalf("len(vector) = %d, want 16", len(a1))
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatalf("same text produced different vectors at %d: %v vs %v", i, a1[i], a2[i])
		}
	}

	b, err := m.EmbedQuery(ctx, "water the plants")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	same := true
	for i := range a1 {
		if a1[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different texts produced identical vectors")
	}
}

func TestMockClient_RecordsAndFails(t *testing.T) {
	m := NewMockClient(8)
	ctx := context.Background()

	if _, err := m.EmbedDocuments(ctx, []string{"one", "two"}); err != nil {
		t.Fatalf("EmbedDocuments() error = %v", err)
	}
	if docs := m.Documents(); len(docs) != 2 || docs[1] != "two" {
		t.Fatalf("Documents() = %v", docs)
	}

	m.SetErr(errors.New("quota exceeded"))
	if _, err := m.EmbedDocuments(ctx, []string{"three"}); !cozyerrors.Is(err, cozyerrors.ErrEmbeddingFailure) {
		t.Fatalf("error = %v, want EMBEDDING_FAILURE", err)
	}
	if _, err := m.EmbedQuery(ctx, "three"); !cozyerrors.Is(err, cozyerrors.ErrEmbeddingFailure) {
		t.Fatalf("error = %v, want EMBEDDING_FAILURE", err)
	}
}

func TestMockClient_EmptyText(t *testing.T) {
	m := NewMockClient(8)
	v, err := m.EmbedQuery(context.Background(), "")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	var norm float32
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		t.Fatal("empty text should still produce a non-zero vector")
	}
}

func newVoyageTestServer(t *testing.T, handler http.HandlerFunc) *VoyageClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &VoyageClient{
		httpClient: srv.Client(),
		endpoint:   srv.URL,
		apiKey:     "test-key",
		model:      "voyage-3",
		dim:        4,
	}
}

func TestVoyageClient_EmbedDocuments(t *testing.T) {
	var gotReq voyageRequest
	c := newVoyageTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		// Answer out of order to exercise index reassembly.
		fmt.Fprint(w, `{"data": [
			{"embedding": [0.5, 0.5, 0.5, 0.5], "index": 1},
			{"embedding": [1, 0, 0, 0], "index": 0}
		]}`)
	})

	vectors, err := c.EmbedDocuments(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("EmbedDocuments() error = %v", err)
	}
	if gotReq.InputType != "document" {
		t.Errorf("input_type = %q, want document", gotReq.InputType)
	}
	if gotReq.Model != "voyage-3" {
		t.Errorf("model = %q", gotReq.Model)
	}
	if vectors[0][0] != 1 || vectors[1][0] != 0.5 {
		t.Errorf("index reassembly wrong: %v", vectors)
	}
}

func TestVoyageClient_EmbedQuery(t *testing.T) {
	var gotReq voyageRequest
	c := newVoyageTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"data": [{"embedding": [0, 1, 0, 0], "index": 0}]}`)
	})

	v, err := c.EmbedQuery(context.Background(), "find this")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if gotReq.InputType != "query" {
		t.Errorf("input_type = %q, want query", gotReq.InputType)
	}
	if len(v) != 4 || v[1] != 1 {
		t.Errorf("vector = %v", v)
	}
}

func TestVoyageClient_Errors(t *testing.T) {
	t.Run("non-200", func(t *testing.T) {
		c := newVoyageTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"detail": "invalid api key"}`, http.StatusUnauthorized)
		})
		_, err := c.EmbedQuery(context.Background(), "x")
		if !cozyerrors.Is(err, cozyerrors.ErrEmbeddingFailure) {
			t.Fatalf("error = %v, want EMBEDDING_FAILURE", err)
		}
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		c := newVoyageTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"data": [{"embedding": [1, 0], "index": 0}]}`)
		})
		_, err := c.EmbedQuery(context.Background(), "x")
		if !cozyerrors.Is(err, cozyerrors.ErrEmbeddingFailure) {
			t.Fatalf("error = %v, want EMBEDDING_FAILURE", err)
		}
	})

	t.Run("count mismatch", func(t *testing.T) {
		c := newVoyageTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"data": []}`)
		})
		_, err := c.EmbedDocuments(context.Background(), []string{"a", "b"})
		if !cozyerrors.Is(err, cozyerrors.ErrEmbeddingFailure) {
			t.Fatalf("error = %v, want EMBEDDING_FAILURE", err)
		}
	})
}

func TestNew(t *testing.T) {
	t.Run("mock provider", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.EmbeddingProvider = ProviderMock
		cfg.EmbeddingDim = 32
		c, err := New(context.Background(), cfg)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if c.Dimension() != 32 {
			t.Errorf("Dimension() = %d, want 32", c.Dimension())
		}
	})

	t.Run("voyage requires key", func(t *testing.T) {
		t.Setenv("VOYAGE_API_KEY", "")
		cfg := config.DefaultConfig()
		cfg.EmbeddingProvider = ProviderVoyage
		if _, err := New(context.Background(), cfg); err == nil {
			t.Fatal("New() should fail without VOYAGE_API_KEY")
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.EmbeddingProvider = "sundial"
		if _, err := New(context.Background(), cfg); err == nil {
			t.Fatal("New() should fail for unknown provider")
		}
	})
}
