// Package embed produces vector embeddings for document chunks.
// The provider is pluggable; an Ollama-backed HTTP implementation is the
// default, with an LRU cache wrapper and a deterministic local embedder
// for tests and offline use.
package embed

import "context"

// Embedder converts text into dense vectors.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector width produced by this embedder.
	Dimensions() int

	// Model returns the model identifier.
	Model() string

	// Close releases any held resources.
	Close() error
}
