// Package vectorstore owns the vector collection. All mutation flows
// through the Manager: batched adds, removal by parent source, and the
// incremental-update transaction the pipeline engine wraps in a ledger
// backup. A local HNSW store and a remote HTTP collection implement the
// same interface.
package vectorstore

import (
	"context"

	"github.com/pressridge/blogidx/internal/chunker"
)

// SearchResult is one similarity hit.
type SearchResult struct {
	Source  string            `json:"source"`
	Content string            `json:"content"`
	Score   float32           `json:"score"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Store is a vector collection keyed by chunk, with removal by the
// chunk's parent source.
type Store interface {
	// AddChunks embeds and inserts the chunks.
	AddChunks(ctx context.Context, chunks []chunker.Chunk) error

	// RemoveBySource deletes every chunk whose parent source matches
	// and returns how many were removed.
	RemoveBySource(ctx context.Context, source string) (int, error)

	// Search returns the k nearest chunks to the query text.
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)

	// Count returns the number of live chunks.
	Count() int

	// SourceCounts returns live chunk counts grouped by parent source.
	SourceCounts() map[string]int

	// Ping performs a cheap read probe.
	Ping(ctx context.Context) error

	// Save persists the collection if the backend is file-based.
	Save() error

	// Close releases resources, saving first where applicable.
	Close() error
}
