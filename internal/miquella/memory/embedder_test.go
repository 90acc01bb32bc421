package memory_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TymurD/miquella/internal/miquella/memory"
)

func TestOpenAIEmbedder_Batch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key-123", r.Header.Get("Authorization"))

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, []string{"hello", "world"}, req.Input)

		// Out of order on purpose: the index field decides placement.
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0.0, 1.0]},
				{"object": "embedding", "index": 0, "embedding": [0.5, 0.25]}
			],
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`))
	}))
	defer srv.Close()

	e := memory.NewOpenAIEmbedder(memory.OpenAIEmbedderConfig{APIKey: "test-key-123", BaseURL: srv.URL})
	vecs, err := e.Embed(context.Background(), []string{"hello", "world"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, 0.25}, {0, 1}}, vecs)
}

func TestOpenAIEmbedder_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit"}}`))
	}))
	defer srv.Close()

	e := memory.NewOpenAIEmbedder(memory.OpenAIEmbedderConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := e.Embed(context.Background(), []string{"hello"})
	assert.Error(t, err)
}

func TestOpenAIEmbedder_EmptyInput(t *testing.T) {
	e := memory.NewOpenAIEmbedder(memory.OpenAIEmbedderConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	vecs, err := e.Embed(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestGenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "gemini-embedding-001:batchEmbedContents"), "path %s", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings": [{"values": [1, 0, 0]}, {"values": [0, 1, 0]}]}`))
	}))
	defer srv.Close()

	e, err := memory.NewGenAIEmbedder(context.Background(), memory.GenAIEmbedderConfig{APIKey: "g-key", BaseURL: srv.URL})
	require.NoError(t, err)

	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0, 0}, {0, 1, 0}}, vecs)
}

func TestGenAIEmbedder_RequiresKey(t *testing.T) {
	_, err := memory.NewGenAIEmbedder(context.Background(), memory.GenAIEmbedderConfig{})
	assert.Error(t, err)
}

func TestCachedEmbedder(t *testing.T) {
	inner := &wordEmbedder{}
	c, err := memory.NewCachedEmbedder(inner, 8)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := c.Embed(ctx, []string{"cat", "dog"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.Calls())
	assert.Equal(t, 2, c.Len())

	// Only the unseen text reaches the provider; order is preserved.
	mixed, err := c.Embed(ctx, []string{"dog", "rain", "cat"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.Calls())
	assert.Equal(t, first[1], mixed[0])
	assert.Equal(t, first[0], mixed[2])

	_, err = c.Embed(ctx, []string{"cat"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.Calls())
}

func TestCachedEmbedder_PassesErrorsAndNoop(t *testing.T) {
	inner := &wordEmbedder{err: errProviderDown}
	c, err := memory.NewCachedEmbedder(inner, 8)
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), []string{"x"})
	assert.True(t, errors.Is(err, errProviderDown))
	assert.Equal(t, 0, c.Len())

	noop, err := memory.NewCachedEmbedder(memory.NoopEmbedder{}, 8)
	require.NoError(t, err)
	vecs, err := noop.Embed(context.Background(), []string{"x"})
	assert.NoError(t, err)
	assert.Nil(t, vecs)
}
