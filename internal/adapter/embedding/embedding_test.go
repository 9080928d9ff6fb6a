package embedding

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booksearch/internal/adapter/analyzer"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64, analyzer.NewTokenizer(true))

	a, err := e.Embed(context.Background(), []string{"desert planet spice", "desert planet spice"})
	require.NoError(t, err)
	require.Len(t, a, 2)
	assert.Equal(t, a[0], a[1])
	assert.Len(t, a[0], 64)

	var norm float64
	for _, v := range a[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	e := NewHashEmbedder(16, analyzer.NewTokenizer(true))

	out, err := e.Embed(context.Background(), []string{"the of"})
	require.NoError(t, err)
	for _, v := range out[0] {
		assert.Zero(t, v)
	}
}

func TestHashEmbedder_Cancelled(t *testing.T) {
	e := NewHashEmbedder(16, analyzer.NewTokenizer(true))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Embed(ctx, []string{"dune"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var req embeddingRequest
		require.NoError(t, json.Unmarshal(body, &req))

		resp := embeddingResponse{}
		// Reverse order to check that results are placed by index.
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, embeddingData{Index: i, Embedding: []float32{float32(i), 1}})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewOpenAICompatibleEmbedder("secret", "test-model", srv.URL, WithDimension(2), WithRateLimit(1000))

	out, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []float32{0, 1}, out[0])
	assert.Equal(t, []float32{2, 1}, out[2])
	assert.Equal(t, 2, e.Dimension())
	assert.Equal(t, "test-model", e.ModelName())
}

func TestOpenAIEmbedder_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewOpenAICompatibleEmbedder("secret", "test-model", srv.URL)

	_, err := e.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNewOpenAIEmbedder_MissingKey(t *testing.T) {
	t.Setenv("BOOKSEARCH_TEST_EMPTY_KEY", "")
	_, err := NewOpenAIEmbedder("BOOKSEARCH_TEST_EMPTY_KEY", "text-embedding-3-small")
	assert.Error(t, err)
}

func TestNewOllamaEmbedder_HTTPClient(t *testing.T) {
	e, err := NewOllamaEmbedder("nomic-embed-text", "")
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, e.client.Timeout)
	assert.Equal(t, "http://localhost:11434/v1", e.baseURL)

	custom := &http.Client{Timeout: 5 * time.Second}
	e, err = NewOllamaEmbedder("nomic-embed-text", "", WithHTTPClient(custom))
	require.NoError(t, err)
	assert.Same(t, custom, e.client)
	assert.Equal(t, 5*time.Second, custom.Timeout)
}
