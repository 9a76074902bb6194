package embedders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func openAITestServer(t *testing.T, dimension int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req OpenAIEmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Return entries out of order to exercise index-based reassembly.
		fmt.Fprint(w, `{"data":[`)
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dimension)
			vecJSON, _ := json.Marshal(vec)
			fmt.Fprintf(w, `{"embedding":%s,"index":%d,"object":"embedding"}`, vecJSON, i)
			if i > 0 {
				fmt.Fprint(w, ",")
			}
		}
		fmt.Fprintf(w, `],"model":%q,"object":"list","usage":{"prompt_tokens":8,"total_tokens":8}}`, req.Model)
	}))
}

func TestNewOpenAIEmbedder_ModelConfiguration(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	tests := []struct {
		name        string
		model       string
		dimension   int
		expectError bool
	}{
		{name: "3-small", model: "text-embedding-3-small", dimension: 1536},
		{name: "3-large", model: "text-embedding-3-large", dimension: 3072},
		{name: "ada-002", model: "text-embedding-ada-002", dimension: 1536},
		{name: "unknown model rejected", model: "totally-made-up", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedder, err := NewOpenAIEmbedder(tt.model)
			if tt.expectError {
				if !errors.Is(err, ErrUnsupportedModel) {
					t.Fatalf("expected ErrUnsupportedModel, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if embedder.GetDimension() != tt.dimension {
				t.Errorf("dimension = %d, want %d", embedder.GetDimension(), tt.dimension)
			}
			if embedder.GetModelName() != tt.model {
				t.Errorf("model = %q, want %q", embedder.GetModelName(), tt.model)
			}
			if embedder.GetMaxTokens() != 8191 {
				t.Errorf("max tokens = %d, want 8191", embedder.GetMaxTokens())
			}
		})
	}
}

func TestNewOpenAIEmbedder_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewOpenAIEmbedder("text-embedding-3-small"); !errors.Is(err, ErrAPIKeyNotSet) {
		t.Fatalf("expected ErrAPIKeyNotSet, got %v", err)
	}
}

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	server := openAITestServer(t, 1536)
	defer server.Close()

	embedder, err := NewOpenAIEmbedderWithClient("text-embedding-3-small", server.Client(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vectors, err := embedder.EmbedBatch(context.Background(), []string{"first chunk", "second chunk", "third chunk"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vectors))
	}
	for i, v := range vectors {
		if len(v) != 1536 {
			t.Errorf("vector %d has dimension %d, want 1536", i, len(v))
		}
	}
}

func TestOpenAIEmbedder_EmbedBatch_Validation(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	server := openAITestServer(t, 1536)
	defer server.Close()

	embedder, err := NewOpenAIEmbedderWithClient("text-embedding-3-small", server.Client(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := embedder.EmbedBatch(context.Background(), nil); !errors.Is(err, ErrContentEmpty) {
		t.Errorf("expected ErrContentEmpty, got %v", err)
	}

	huge := make([]string, embedder.GetMaxBatchSize()+1)
	for i := range huge {
		huge[i] = "x"
	}
	if _, err := embedder.EmbedBatch(context.Background(), huge); !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestOpenAIEmbedder_EmbedBatch_APIFailure(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	embedder, err := NewOpenAIEmbedderWithClient("text-embedding-3-small", server.Client(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = embedder.EmbedBatch(context.Background(), []string{"chunk"})
	if !errors.Is(err, ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
	if !errors.Is(err, ErrAPIRequestFailed) {
		t.Errorf("expected ErrAPIRequestFailed to be wrapped, got %v", err)
	}
}

func TestJinaEmbedder_Configuration(t *testing.T) {
	t.Setenv("JINA_API_KEY", "test-key")

	embedder, err := NewJinaEmbedder("jina-embeddings-v3", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if embedder.GetDimension() != 1024 {
		t.Errorf("dimension = %d, want 1024", embedder.GetDimension())
	}
	if !embedder.SupportsLateChunking() {
		t.Error("expected late chunking enabled")
	}

	if _, err := NewJinaEmbedder("nope", false); !errors.Is(err, ErrUnsupportedModel) {
		t.Errorf("expected ErrUnsupportedModel, got %v", err)
	}
}

func TestJinaEmbedder_EmbedBatch_SendsLateChunkingFlag(t *testing.T) {
	t.Setenv("JINA_API_KEY", "test-key")

	var sawLateChunking bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JinaEmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sawLateChunking = req.LateChunking

		fmt.Fprint(w, `{"data":[`)
		for i := range req.Input {
			vec := make([]float32, 1024)
			vecJSON, _ := json.Marshal(vec)
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"embedding":%s,"index":%d}`, vecJSON, i)
		}
		fmt.Fprint(w, `],"model":"jina-embeddings-v3","usage":{"total_tokens":5}}`)
	}))
	defer server.Close()

	embedder, err := NewJinaEmbedderWithClient("jina-embeddings-v3", true, server.Client(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vectors, err := embedder.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if !sawLateChunking {
		t.Error("expected late_chunking flag in request")
	}
}
