package loader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pressridge/blogidx/internal/clock"
	idxerrors "github.com/pressridge/blogidx/internal/errors"
)

const (
	webFetchTimeout  = 30 * time.Second
	maxWebBodyBytes  = 8 << 20
	webFetchAttempts = 3
)

// WebFetcher retrieves extra documents by URL.
type WebFetcher struct {
	client *http.Client
	clk    clock.Clock
	logger *slog.Logger
}

// NewWebFetcher creates a fetcher with a pooled HTTP client. The clock
// paces retry backoff and stamps fetched documents.
func NewWebFetcher(clk clock.Clock, logger *slog.Logger) *WebFetcher {
	if clk == nil {
		clk = clock.NewReal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebFetcher{
		client: &http.Client{
			Timeout: webFetchTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		clk:    clk,
		logger: logger,
	}
}

// Fetch downloads one URL and wraps it as a Document. The URL itself is
// the source identity. Transient failures are retried with backoff.
func (f *WebFetcher) Fetch(ctx context.Context, url string, checksumAlgo string) (Document, error) {
	var lastErr error
	for attempt := 0; attempt < webFetchAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			select {
			case <-ctx.Done():
				return Document{}, ctx.Err()
			case <-f.clk.After(backoff):
			}
		}

		body, err := f.fetchOnce(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}

		checksum, err := ComputeChecksum(body, checksumAlgo)
		if err != nil {
			return Document{}, err
		}
		return Document{
			Source:       url,
			Content:      body,
			Checksum:     checksum,
			LastModified: f.clk.Now().Unix(),
			Meta: Metadata{
				Title:         titleFromURL(url),
				Published:     true,
				URL:           url,
				PostSlug:      slugFromURL(url),
				ContentLength: utf8.RuneCountInString(body),
			},
		}, nil
	}
	return Document{}, idxerrors.New(idxerrors.ErrCodeWebFetchFailed,
		fmt.Sprintf("failed to fetch %s after %d attempts", url, webFetchAttempts), lastErr)
}

func (f *WebFetcher) fetchOnce(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "blogidx/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxWebBodyBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func slugFromURL(url string) string {
	trimmed := strings.TrimRight(url, "/")
	if idx := strings.LastIndexByte(trimmed, '/'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if trimmed == "" {
		return "page"
	}
	return trimmed
}

func titleFromURL(url string) string {
	return humanizeSlug(slugFromURL(url))
}
