// Package chunker splits documents into overlapping text pieces for
// embedding. Two strategies are available: a recursive character splitter
// and a semantic splitter driven by embedding variance. Chunk parameters
// can adapt to the corpus's document length distribution.
package chunker

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/pressridge/blogidx/internal/config"
	"github.com/pressridge/blogidx/internal/embed"
	"github.com/pressridge/blogidx/internal/loader"
)

// Chunk is a bounded piece of a document paired with the parent's
// metadata and an ordinal. Chunks are ephemeral; only the vector store
// ever holds them.
type Chunk struct {
	Content string
	Source  string
	Ordinal int
	Meta    loader.Metadata
}

// Chunker turns one document into an ordered chunk list.
type Chunker interface {
	Chunk(ctx context.Context, doc loader.Document) ([]Chunk, error)
}

// Params are the effective splitter parameters for a run.
type Params struct {
	ChunkSize    int
	ChunkOverlap int
}

// New builds the configured chunker. The embedder is only used by the
// semantic strategy.
func New(cfg *config.Config, embedder embed.Embedder, logger *slog.Logger) Chunker {
	if logger == nil {
		logger = slog.Default()
	}
	params := Params{ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap}

	switch cfg.ChunkingStrategy {
	case config.StrategySemantic:
		return &SemanticSplitter{
			embedder:        embedder,
			breakpointType:  cfg.SemanticBreakpointType,
			thresholdAmount: cfg.SemanticBreakpointThresholdAmount,
			minChunkSize:    cfg.SemanticMinChunkSize,
			fallback:        NewRecursiveSplitter(params),
			logger:          logger,
		}
	default:
		return NewRecursiveSplitter(params)
	}
}

// AdaptParams widens or narrows the chunk size based on the mean and p95
// of document lengths. Long-tailed corpora get bigger chunks (up to a
// cap), short-document corpora get smaller ones. Overlap scales to stay
// a fifth of the chunk size.
func AdaptParams(base Params, docs []loader.Document, logger *slog.Logger) Params {
	if logger == nil {
		logger = slog.Default()
	}
	if len(docs) == 0 {
		return base
	}

	lengths := make([]int, len(docs))
	total := 0
	for i, d := range docs {
		lengths[i] = len(d.Content)
		total += lengths[i]
	}
	sort.Ints(lengths)
	mean := float64(total) / float64(len(lengths))
	return adapt(base, mean, percentile(lengths, 95), logger)
}

func percentile(sorted []int, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted) - 1) * p / 100
	return float64(sorted[idx])
}

func adapt(base Params, mean, p95 float64, logger *slog.Logger) Params {
	const (
		minSize = 200
		maxSize = 4000
	)
	size := base.ChunkSize
	switch {
	case p95 > 3*float64(base.ChunkSize):
		// Long tail, widen chunks toward the cap.
		size = int(math.Min(maxSize, float64(base.ChunkSize)*1.5))
	case mean < float64(base.ChunkSize)/2:
		// Mostly short documents, narrow chunks.
		size = int(math.Max(minSize, mean))
	}
	out := Params{ChunkSize: size, ChunkOverlap: size / 5}
	if out.ChunkOverlap > base.ChunkOverlap {
		out.ChunkOverlap = base.ChunkOverlap
	}
	logger.Info("chunk parameters selected",
		slog.Int("chunk_size", out.ChunkSize),
		slog.Int("chunk_overlap", out.ChunkOverlap),
		slog.Float64("mean_doc_length", mean),
		slog.Float64("p95_doc_length", p95))
	return out
}
