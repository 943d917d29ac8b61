package vectorstore

import (
	"context"
	"log/slog"
	"sort"

	"github.com/pressridge/blogidx/internal/batch"
	"github.com/pressridge/blogidx/internal/chunker"
	"github.com/pressridge/blogidx/internal/config"
	"github.com/pressridge/blogidx/internal/embed"
	"github.com/pressridge/blogidx/internal/loader"
)

// ChunkFunc turns one document into its chunk list.
type ChunkFunc func(ctx context.Context, doc loader.Document) ([]chunker.Chunk, error)

// UpdateResult summarizes one incremental_update call.
type UpdateResult struct {
	RemovedCount  int
	AddedCount    int
	FailedSources []string
	Warnings      []string
}

// Manager owns the vector collection and is its sole mutator.
type Manager struct {
	cfg       *config.Config
	store     Store
	embedder  embed.Embedder
	processor *batch.Processor
	logger    *slog.Logger
}

// NewManager opens or creates the configured collection. A configured
// remote endpoint wins; otherwise a local on-disk store is used. With
// forceRecreate the existing collection is dropped first.
func NewManager(ctx context.Context, cfg *config.Config, embedder embed.Embedder, processor *batch.Processor, logger *slog.Logger, forceRecreate bool) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		store Store
		err   error
	)
	if cfg.VectorStoreURL != "" {
		store, err = NewRemoteStore(ctx, cfg.VectorStoreURL, cfg.CollectionName, embedder, forceRecreate)
	} else {
		store, err = NewLocalStore(cfg.VectorStoreDir, cfg.CollectionName, embedder, forceRecreate)
	}
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:       cfg,
		store:     store,
		embedder:  embedder,
		processor: processor,
		logger:    logger,
	}, nil
}

// Store exposes the underlying collection for read paths.
func (m *Manager) Store() Store { return m.store }

// AddChunks inserts chunks through the batch processor, honoring the
// configured batch size, pause, and concurrency cap.
func (m *Manager) AddChunks(ctx context.Context, chunks []chunker.Chunk) (int, []string) {
	if len(chunks) == 0 {
		return 0, nil
	}

	opts := batch.Options{
		BatchSize:      m.cfg.BatchSize,
		Pause:          m.cfg.BatchPause(),
		MaxConcurrency: m.cfg.MaxConcurrentOperations,
	}
	if !m.cfg.EnableBatchProcessing {
		opts.BatchSize = len(chunks)
		opts.MaxConcurrency = 1
		opts.Pause = 0
	}

	result := batch.Process(ctx, m.processor, chunks, opts,
		func(ctx context.Context, items []chunker.Chunk) error {
			return m.store.AddChunks(ctx, items)
		})

	failed := map[string]bool{}
	for _, f := range result.Failed {
		failed[f.Item.Source] = true
	}
	return len(result.Succeeded), sortedKeys(failed)
}

// RemoveSources removes all chunks for each source and returns the total
// removed plus the sources that failed.
func (m *Manager) RemoveSources(ctx context.Context, sources []string) (int, []string) {
	removed := 0
	var failedSources []string
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			failedSources = append(failedSources, source)
			continue
		}
		n, err := m.store.RemoveBySource(ctx, source)
		if err != nil {
			m.logger.Warn("failed to remove source from store",
				slog.String("source", source),
				slog.String("error", err.Error()))
			failedSources = append(failedSources, source)
			continue
		}
		removed += n
	}
	return removed, failedSources
}

// IncrementalUpdate applies change sets to the collection: chunks of
// deleted and modified sources are removed, then new and modified
// documents are re-chunked and added. It is not atomic at the store
// level; the pipeline engine provides the ledger-level transaction
// around it.
func (m *Manager) IncrementalUpdate(ctx context.Context, removeSources []string, addDocs []loader.Document, chunkFn ChunkFunc) UpdateResult {
	var result UpdateResult

	removed, removeFailed := m.RemoveSources(ctx, removeSources)
	result.RemovedCount = removed
	result.FailedSources = append(result.FailedSources, removeFailed...)

	var chunks []chunker.Chunk
	for _, doc := range addDocs {
		docChunks, err := chunkFn(ctx, doc)
		if err != nil {
			// A chunking failure skips only this document.
			m.logger.Warn("chunking failed, skipping document",
				slog.String("source", doc.Source),
				slog.String("error", err.Error()))
			result.Warnings = append(result.Warnings, "chunking failed for "+doc.Source)
			result.FailedSources = append(result.FailedSources, doc.Source)
			continue
		}
		chunks = append(chunks, docChunks...)
	}

	added, addFailed := m.AddChunks(ctx, chunks)
	result.AddedCount = added
	result.FailedSources = append(result.FailedSources, addFailed...)

	result.FailedSources = dedupe(result.FailedSources)

	m.logger.Info("incremental update applied",
		slog.Int("removed", result.RemovedCount),
		slog.Int("added", result.AddedCount),
		slog.Int("failed_sources", len(result.FailedSources)))
	return result
}

// ValidateHealth runs a cheap read probe against the store.
func (m *Manager) ValidateHealth(ctx context.Context) bool {
	if err := m.store.Ping(ctx); err != nil {
		m.logger.Warn("vector store health probe failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// Save persists the collection.
func (m *Manager) Save() error { return m.store.Save() }

// Close saves and releases the store.
func (m *Manager) Close() error { return m.store.Close() }

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	set := make(map[string]bool, len(in))
	for _, s := range in {
		set[s] = true
	}
	return sortedKeys(set)
}
