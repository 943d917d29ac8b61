package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pressridge/blogidx/internal/chunker"
	"github.com/pressridge/blogidx/internal/embed"
	idxerrors "github.com/pressridge/blogidx/internal/errors"
)

const remoteTimeout = 60 * time.Second

// RemoteStore talks to a vector collection service over HTTP. Embeddings
// are produced client-side; the service only stores and searches them.
// Removal is a server-side filter on the chunk's source metadata field.
type RemoteStore struct {
	base       string
	collection string
	embedder   embed.Embedder
	client     *http.Client

	mu     sync.RWMutex
	counts map[string]int
	closed bool
}

// NewRemoteStore creates a client for the collection at base URL,
// creating the collection when it does not exist. With forceRecreate the
// collection is dropped and recreated empty.
func NewRemoteStore(ctx context.Context, base, collection string, embedder embed.Embedder, forceRecreate bool) (*RemoteStore, error) {
	s := &RemoteStore{
		base:       strings.TrimRight(base, "/"),
		collection: collection,
		embedder:   embedder,
		client: &http.Client{
			Timeout: remoteTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		counts: make(map[string]int),
	}

	if forceRecreate {
		if err := s.do(ctx, http.MethodDelete, s.collectionURL(), nil, nil); err != nil {
			// A missing collection is fine; anything else is not.
			if !isNotFound(err) {
				return nil, err
			}
		}
	}
	if err := s.do(ctx, http.MethodPost, s.base+"/api/collections",
		map[string]any{"name": collection, "get_or_create": true}, nil); err != nil {
		return nil, err
	}
	if err := s.refreshCounts(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RemoteStore) collectionURL() string {
	return s.base + "/api/collections/" + s.collection
}

// AddChunks embeds and uploads chunks.
func (s *RemoteStore) AddChunks(ctx context.Context, chunks []chunker.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}

	ids := make([]string, len(chunks))
	metadatas := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		ids[i] = chunkID(c.Source, c.Ordinal)
		metadatas[i] = map[string]any{
			"source":  c.Source,
			"ordinal": c.Ordinal,
			"title":   c.Meta.Title,
			"url":     c.Meta.URL,
		}
	}

	payload := map[string]any{
		"ids":        ids,
		"embeddings": vectors,
		"documents":  texts,
		"metadatas":  metadatas,
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL()+"/add", payload, nil); err != nil {
		return err
	}

	s.mu.Lock()
	for _, c := range chunks {
		s.counts[c.Source]++
	}
	s.mu.Unlock()
	return nil
}

// RemoveBySource deletes all chunks whose source metadata matches.
func (s *RemoteStore) RemoveBySource(ctx context.Context, source string) (int, error) {
	payload := map[string]any{"where": map[string]any{"source": source}}

	var resp struct {
		Deleted int `json:"deleted"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL()+"/delete", payload, &resp); err != nil {
		return 0, err
	}

	s.mu.Lock()
	removed := s.counts[source]
	delete(s.counts, source)
	s.mu.Unlock()

	if resp.Deleted > 0 {
		removed = resp.Deleted
	}
	return removed, nil
}

// Search embeds the query and runs a nearest-neighbor query.
func (s *RemoteStore) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"query_embeddings": vectors,
		"n_results":        k,
	}
	var resp struct {
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float32        `json:"distances"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL()+"/query", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Documents) == 0 {
		return []SearchResult{}, nil
	}

	results := make([]SearchResult, 0, len(resp.Documents[0]))
	for i, doc := range resp.Documents[0] {
		r := SearchResult{Content: doc}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			r.Score = 1 - resp.Distances[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			meta := resp.Metadatas[0][i]
			if src, ok := meta["source"].(string); ok {
				r.Source = src
			}
			r.Meta = map[string]string{}
			for key, v := range meta {
				r.Meta[key] = fmt.Sprintf("%v", v)
			}
		}
		results = append(results, r)
	}
	return results, nil
}

// Count returns the locally tracked live chunk count.
func (s *RemoteStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, n := range s.counts {
		total += n
	}
	return total
}

// SourceCounts returns a snapshot of per-source chunk counts.
func (s *RemoteStore) SourceCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// Ping lists collections as a no-op reachability probe.
func (s *RemoteStore) Ping(ctx context.Context) error {
	return s.do(ctx, http.MethodGet, s.base+"/api/collections", nil, nil)
}

// Save is a no-op; the remote service owns durability.
func (s *RemoteStore) Save() error { return nil }

// Close marks the client closed.
func (s *RemoteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.client.CloseIdleConnections()
	return nil
}

// refreshCounts rebuilds the per-source counts from the server.
func (s *RemoteStore) refreshCounts(ctx context.Context) error {
	var resp struct {
		Metadatas []map[string]any `json:"metadatas"`
	}
	if err := s.do(ctx, http.MethodGet, s.collectionURL()+"/get", nil, &resp); err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = make(map[string]int)
	for _, meta := range resp.Metadatas {
		if src, ok := meta["source"].(string); ok {
			s.counts[src]++
		}
	}
	return nil
}

func (s *RemoteStore) do(ctx context.Context, method, url string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return idxerrors.New(idxerrors.ErrCodeStoreAdd, "failed to encode request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return idxerrors.New(idxerrors.ErrCodeStoreAdd, "failed to build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return idxerrors.New(idxerrors.ErrCodeStoreUnavailable,
			fmt.Sprintf("vector store at %s is unreachable", s.base), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return idxerrors.New(idxerrors.ErrCodeStoreUnavailable, "failed to read response", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return idxerrors.Newf(idxerrors.ErrCodeStoreRemove, "not found: %s", url)
	}
	if resp.StatusCode >= 400 {
		return idxerrors.Newf(idxerrors.ErrCodeStoreAdd,
			"vector store returned status %d: %s", resp.StatusCode, truncateBody(data))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return idxerrors.New(idxerrors.ErrCodeStoreAdd, "failed to decode response", err)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return idxerrors.GetCode(err) == idxerrors.ErrCodeStoreRemove
}

func truncateBody(data []byte) string {
	const max = 200
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max]) + "..."
}

var _ Store = (*RemoteStore)(nil)
