package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermem/evermem/internal/embeddings"
)

type embeddingDatum struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
	Object    string    `json:"object"`
}

func writeEmbeddings(w http.ResponseWriter, data []embeddingDatum) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   data,
		"model":  "test-model",
	})
}

func testProvider(baseURL string, attempts int) *Provider {
	return New(Config{
		APIKey:       "test-key",
		BaseURL:      baseURL,
		Model:        "test-model",
		Dimensions:   3,
		MaxBatchSize: 4,
		Timeout:      5 * time.Second,
		Policy:       embeddings.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, Retryable: Retryable},
	})
}

func TestEmbedRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeEmbeddings(w, []embeddingDatum{{Index: 0, Embedding: []float32{0.1, 0.2, 0.3}, Object: "embedding"}})
	}))
	defer srv.Close()

	p := testProvider(srv.URL, 3)
	vec, err := p.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := testProvider(srv.URL, 3)
	_, err := p.Embed(context.Background(), "hello")

	require.Error(t, err)
	var ex *embeddings.ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad input","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := testProvider(srv.URL, 3)
	_, err := p.Embed(context.Background(), "hello")

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbedBatchReordersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Answer out of order; callers must still get input order back.
		writeEmbeddings(w, []embeddingDatum{
			{Index: 2, Embedding: []float32{2, 2, 2}, Object: "embedding"},
			{Index: 0, Embedding: []float32{0, 0, 0}, Object: "embedding"},
			{Index: 1, Embedding: []float32{1, 1, 1}, Object: "embedding"},
		})
	}))
	defer srv.Close()

	p := testProvider(srv.URL, 1)
	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})

	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{0, 0, 0}, vecs[0])
	assert.Equal(t, []float32{1, 1, 1}, vecs[1])
	assert.Equal(t, []float32{2, 2, 2}, vecs[2])
}

func TestEmbedBatchRejectsOversizedBatch(t *testing.T) {
	p := testProvider("http://localhost:0", 1)

	_, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})

	var tooLarge *BatchTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, 5, tooLarge.Size)
	assert.Equal(t, 4, tooLarge.Limit)
}

func TestDimensions(t *testing.T) {
	p := testProvider("http://localhost:0", 1)
	assert.Equal(t, 3, p.Dimensions())
}
