package vectorstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressridge/blogidx/internal/batch"
	"github.com/pressridge/blogidx/internal/chunker"
	"github.com/pressridge/blogidx/internal/config"
	"github.com/pressridge/blogidx/internal/embed"
	"github.com/pressridge/blogidx/internal/loader"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.NewConfig()
	cfg.VectorStoreDir = t.TempDir()
	cfg.BatchSize = 2
	cfg.BatchPauseSeconds = 0
	cfg.MaxConcurrentOperations = 2

	m, err := NewManager(context.Background(), cfg, embed.NewStaticEmbedder(32), batch.New(nil, nil), nil, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func simpleChunkFn(ctx context.Context, doc loader.Document) ([]chunker.Chunk, error) {
	return chunker.NewRecursiveSplitter(chunker.Params{ChunkSize: 50, ChunkOverlap: 0}).Chunk(ctx, doc)
}

func TestManagerIncrementalUpdateAddsAndRemoves(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	// Seed with one source.
	require.NoError(t, m.Store().AddChunks(ctx, testChunks("old.md", 4)))

	docs := []loader.Document{
		{Source: "new.md", Content: strings.Repeat("fresh content here. ", 10)},
	}
	result := m.IncrementalUpdate(ctx, []string{"old.md"}, docs, simpleChunkFn)

	assert.Equal(t, 4, result.RemovedCount)
	assert.Greater(t, result.AddedCount, 0)
	assert.Empty(t, result.FailedSources)

	counts := m.Store().SourceCounts()
	assert.NotContains(t, counts, "old.md")
	assert.Contains(t, counts, "new.md")
}

func TestManagerIncrementalUpdateIdempotent(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	// No removals, no documents: nothing changes.
	result := m.IncrementalUpdate(ctx, nil, nil, simpleChunkFn)
	assert.Zero(t, result.RemovedCount)
	assert.Zero(t, result.AddedCount)
	assert.Empty(t, result.FailedSources)
}

func TestManagerChunkFailureSkipsDocument(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	failingChunkFn := func(ctx context.Context, doc loader.Document) ([]chunker.Chunk, error) {
		if doc.Source == "bad.md" {
			return nil, errors.New("chunker choked")
		}
		return simpleChunkFn(ctx, doc)
	}

	docs := []loader.Document{
		{Source: "bad.md", Content: "whatever"},
		{Source: "good.md", Content: "good content that chunks fine"},
	}
	result := m.IncrementalUpdate(ctx, nil, docs, failingChunkFn)

	assert.Equal(t, []string{"bad.md"}, result.FailedSources)
	assert.NotEmpty(t, result.Warnings)
	assert.Contains(t, m.Store().SourceCounts(), "good.md")
}

func TestManagerValidateHealth(t *testing.T) {
	m := testManager(t)
	assert.True(t, m.ValidateHealth(context.Background()))
}

func TestManagerAddChunksBatched(t *testing.T) {
	m := testManager(t)

	added, failed := m.AddChunks(context.Background(), testChunks("a.md", 7))
	assert.Equal(t, 7, added)
	assert.Empty(t, failed)
	assert.Equal(t, 7, m.Store().Count())
}
