package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEmbedder(baseURL string, opts ...EmbedderOption) *Embedder {
	e := &Embedder{
		client: openaisdk.NewClient(
			option.WithAPIKey("test-key"),
			option.WithBaseURL(baseURL),
			option.WithMaxRetries(0),
		),
		model:     DefaultEmbeddingModel,
		dimension: 3,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func TestEmbedder_OptionsOverrideDefaults(t *testing.T) {
	embedder := NewEmbedder("dummy-key",
		WithEmbeddingModel("custom-model"),
		WithEmbeddingDimension(42),
	)

	assert.Equal(t, "custom-model", embedder.ModelName())
	assert.Equal(t, 42, embedder.Dimension())
	assert.Equal(t, maxBatchSize, embedder.MaxBatchSize())
}

func TestEmbedder_OptionsIgnoreEmptyValues(t *testing.T) {
	embedder := NewEmbedder("dummy-key",
		WithEmbeddingModel(""),
		WithEmbeddingDimension(0),
	)

	assert.Equal(t, DefaultEmbeddingModel, embedder.ModelName())
	assert.Equal(t, DefaultEmbeddingDimension, embedder.Dimension())
}

func TestEmbedder_BatchEmbedReordersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// APIの応答順はインデックス順とは限らない
		resp := map[string]any{
			"object": "list",
			"model":  DefaultEmbeddingModel,
			"data": []map[string]any{
				{"object": "embedding", "index": 1, "embedding": []float64{0.4, 0.5, 0.6}},
				{"object": "embedding", "index": 0, "embedding": []float64{0.1, 0.2, 0.3}},
			},
			"usage": map[string]any{"prompt_tokens": 4, "total_tokens": 4},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	embedder := newTestEmbedder(server.URL)

	vectors, err := embedder.BatchEmbed(context.Background(), []string{"first", "second"})

	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vectors[0])
	assert.Equal(t, []float32{0.4, 0.5, 0.6}, vectors[1])
}

func TestEmbedder_BatchEmbedRejectsEmptyInput(t *testing.T) {
	embedder := NewEmbedder("dummy-key")

	_, err := embedder.BatchEmbed(context.Background(), nil)

	require.Error(t, err)
}

func TestEmbedder_BatchEmbedRejectsOversizedBatch(t *testing.T) {
	embedder := NewEmbedder("dummy-key")

	texts := make([]string, maxBatchSize+1)
	for i := range texts {
		texts[i] = "text"
	}

	_, err := embedder.BatchEmbed(context.Background(), texts)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestEmbedder_BatchEmbedFailsOnCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"object": "list",
			"model":  DefaultEmbeddingModel,
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": []float64{0.1, 0.2, 0.3}},
			},
			"usage": map[string]any{"prompt_tokens": 4, "total_tokens": 4},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	embedder := newTestEmbedder(server.URL)

	_, err := embedder.BatchEmbed(context.Background(), []string{"first", "second"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected embedding count")
}
