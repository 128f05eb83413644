package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flarexio/mooli/llm"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient("sk-test", srv.URL)
	assert.NoError(t, err)

	return client
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient("", "")
	assert.Error(t, err)
}

func TestEmbed(t *testing.T) {
	assert := assert.New(t)

	vec := make([]float32, 1536)
	vec[0] = 0.1

	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("/embeddings", r.URL.Path)
		assert.Equal("Bearer sk-test", r.Header.Get("Authorization"))

		var req embeddingRequest
		assert.NoError(json.NewDecoder(r.Body).Decode(&req))
		assert.Equal("hello", req.Input)
		assert.Equal("text-embedding-3-small", req.Model)

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": vec}},
		})
	})

	e := NewEmbedder(client, "")
	assert.Equal(1536, e.Dimensions())

	v, err := e.Embed(context.Background(), "hello")
	assert.NoError(err)
	assert.Equal(vec, v)
}

func TestEmbedDimensions(t *testing.T) {
	assert := assert.New(t)

	var size atomic.Int32
	size.Store(2)

	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": make([]float32, size.Load())}},
		})
	})

	e := NewEmbedder(client, "nomic-embed-text")
	assert.Equal(0, e.Dimensions())

	_, err := e.Embed(context.Background(), "hello")
	assert.NoError(err)
	assert.Equal(2, e.Dimensions())

	size.Store(3)
	_, err = e.Embed(context.Background(), "hello")
	assert.ErrorIs(err, llm.ErrEmbeddingService)

	_, err = NewEmbedder(client, "text-embedding-3-large").Embed(context.Background(), "hello")
	assert.ErrorIs(err, llm.ErrEmbeddingService)
}

func TestEmbedRateLimited(t *testing.T) {
	assert := assert.New(t)

	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests"}}`))
	})

	_, err := NewEmbedder(client, "").Embed(context.Background(), "hello")
	assert.ErrorIs(err, llm.ErrEmbeddingService)
	assert.ErrorIs(err, llm.ErrThrottled)
	assert.Contains(err.Error(), "Rate limit reached")
}

func TestComplete(t *testing.T) {
	assert := assert.New(t)

	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("/chat/completions", r.URL.Path)

		var req chatRequest
		assert.NoError(json.NewDecoder(r.Body).Decode(&req))
		assert.Equal("gpt-4o-mini", req.Model)
		assert.Equal(512, req.MaxTokens)
		assert.Equal("user", req.Messages[0].Role)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "42"}}},
		})
	})

	answer, err := NewCompleter(client, llm.Config{}).Complete(context.Background(), "question")
	assert.NoError(err)
	assert.Equal("42", answer)
}

func TestCompleteServerError(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := NewCompleter(client, llm.Config{}).Complete(context.Background(), "question")
	assert.ErrorIs(t, err, llm.ErrCompletionService)
	assert.NotErrorIs(t, err, llm.ErrThrottled)
}
