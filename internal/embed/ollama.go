package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pressridge/blogidx/internal/clock"
	idxerrors "github.com/pressridge/blogidx/internal/errors"
)

const (
	defaultOllamaHost = "http://localhost:11434"
	embedTimeout      = 2 * time.Minute
	embedMaxRetries   = 3
	embedBaseBackoff  = 500 * time.Millisecond
)

// OllamaEmbedder produces embeddings via the Ollama HTTP API.
// Dimensions are discovered lazily from the first response.
type OllamaEmbedder struct {
	host   string
	model  string
	client *http.Client
	clk    clock.Clock
	logger *slog.Logger
	dims   int
}

// NewOllamaEmbedder creates an embedder for the given model. An empty
// host falls back to OLLAMA_HOST and then the local default. The clock
// paces retry backoff.
func NewOllamaEmbedder(host, model string, clk clock.Clock, logger *slog.Logger) *OllamaEmbedder {
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}
	if clk == nil {
		clk = clock.NewReal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaEmbedder{
		host:  strings.TrimRight(host, "/"),
		model: model,
		clk:   clk,
		client: &http.Client{
			Timeout: embedTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed sends all texts in a single request and retries transient
// failures with exponential backoff.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; attempt < embedMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := embedBaseBackoff << (attempt - 1)
			e.logger.Warn("retrying embedding request",
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
				slog.String("error", lastErr.Error()))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-e.clk.After(backoff):
			}
		}

		vectors, err := e.embedOnce(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !idxerrors.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, idxerrors.New(idxerrors.ErrCodeEmbedFailed,
		fmt.Sprintf("embedding failed after %d attempts", embedMaxRetries), lastErr)
}

func (e *OllamaEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, idxerrors.New(idxerrors.ErrCodeEmbedFailed, "failed to encode embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, idxerrors.New(idxerrors.ErrCodeEmbedFailed, "failed to build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, idxerrors.New(idxerrors.ErrCodeEmbedUnavailable,
			fmt.Sprintf("embedding provider at %s is unreachable", e.host), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, idxerrors.New(idxerrors.ErrCodeEmbedFailed, "failed to read embed response", err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return nil, idxerrors.Newf(idxerrors.ErrCodeEmbedUnavailable,
				"embedding provider returned status %d", resp.StatusCode)
		}
		return nil, idxerrors.Newf(idxerrors.ErrCodeEmbedFailed,
			"embedding provider rejected request with status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, idxerrors.New(idxerrors.ErrCodeEmbedFailed, "failed to decode embed response", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, idxerrors.Newf(idxerrors.ErrCodeEmbedFailed,
			"embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(parsed.Embeddings))
	}

	if e.dims == 0 && len(parsed.Embeddings) > 0 {
		e.dims = len(parsed.Embeddings[0])
	}
	for i, v := range parsed.Embeddings {
		if len(v) != e.dims {
			return nil, idxerrors.Newf(idxerrors.ErrCodeDimensionMismatch,
				"vector %d has %d dimensions, want %d", i, len(v), e.dims)
		}
	}
	return parsed.Embeddings, nil
}

func (e *OllamaEmbedder) Dimensions() int { return e.dims }
func (e *OllamaEmbedder) Model() string   { return e.model }
func (e *OllamaEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
