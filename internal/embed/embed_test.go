package embed

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

	"github.com/pressridge/blogidx/internal/clock"
)

var _ Embedder = (*OllamaEmbedder)(nil)
var _ Embedder = (*CachedEmbedder)(nil)
var _ Embedder = (*StaticEmbedder)(nil)

func TestStaticEmbedderDeterministic(t *testing.T) {
	e := NewStaticEmbedder(64)

	a, err := e.Embed(context.Background(), []string{"the quick brown fox"})
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), []string{"the quick brown fox"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a[0], 64)
}

func TestStaticEmbedderNormalized(t *testing.T) {
	e := NewStaticEmbedder(32)
	vecs, err := e.Embed(context.Background(), []string{"some reasonably long text here"})
	require.NoError(t, err)

	var norm float64
	for _, x := range vecs[0] {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestOllamaEmbedderHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := ollamaEmbedResponse{Embeddings: make([][]float32, len(req.Input))}
		for i := range req.Input {
			resp.Embeddings[i] = []float32{1, 2, 3}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "nomic-embed-text", nil, nil)
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, 3, e.Dimensions())
}

func TestOllamaEmbedderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1}}})
	}))
	defer srv.Close()

	// Backoff waits run on the injected clock, so the whole retry dance
	// finishes without any real sleeping.
	clk := clock.NewFake(time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC))
	e := NewOllamaEmbedder(srv.URL, "m", clk, nil)

	start := time.Now()
	var (
		vecs [][]float32
		err  error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		vecs, err = e.Embed(context.Background(), []string{"x"})
	}()
	for {
		select {
		case <-done:
			require.NoError(t, err)
			assert.Len(t, vecs, 1)
			assert.Equal(t, int32(3), calls.Load())
			assert.Less(t, time.Since(start), embedBaseBackoff)
			return
		default:
			clk.Advance(time.Second)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestOllamaEmbedderClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "m", nil, nil)
	_, err := e.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCachedEmbedderServesHits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req ollamaEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := ollamaEmbedResponse{Embeddings: make([][]float32, len(req.Input))}
		for i := range req.Input {
			resp.Embeddings[i] = []float32{float32(len(req.Input[i]))}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	cached, err := NewCachedEmbedder(NewOllamaEmbedder(srv.URL, "m", nil, nil), 16)
	require.NoError(t, err)

	first, err := cached.Embed(context.Background(), []string{"aa", "bbb"})
	require.NoError(t, err)
	second, err := cached.Embed(context.Background(), []string{"aa", "bbb"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 2, cached.Len())
}

func TestCachedEmbedderPartialMiss(t *testing.T) {
	inner := NewStaticEmbedder(16)
	cached, err := NewCachedEmbedder(inner, 16)
	require.NoError(t, err)

	_, err = cached.Embed(context.Background(), []string{"cached text"})
	require.NoError(t, err)

	vecs, err := cached.Embed(context.Background(), []string{"fresh text", "cached text"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	want, _ := inner.Embed(context.Background(), []string{"fresh text", "cached text"})
	assert.Equal(t, want, vecs)
}

func TestEmbedEmptyInput(t *testing.T) {
	e := NewOllamaEmbedder("http://localhost:1", "m", nil, nil)
	vecs, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}
