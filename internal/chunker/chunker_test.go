package chunker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressridge/blogidx/internal/config"
	"github.com/pressridge/blogidx/internal/embed"
	"github.com/pressridge/blogidx/internal/loader"
)

func testDoc(content string) loader.Document {
	return loader.Document{
		Source:  "data/post/index.md",
		Content: content,
		Meta:    loader.Metadata{Title: "Post", Published: true},
	}
}

func TestRecursiveSplitterShortDocIsOneChunk(t *testing.T) {
	r := NewRecursiveSplitter(Params{ChunkSize: 1000, ChunkOverlap: 200})
	chunks, err := r.Chunk(context.Background(), testDoc("A short post."))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "A short post.", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Equal(t, "data/post/index.md", chunks[0].Source)
	assert.Equal(t, "Post", chunks[0].Meta.Title)
}

func TestRecursiveSplitterRespectsChunkSize(t *testing.T) {
	paras := make([]string, 20)
	for i := range paras {
		paras[i] = strings.Repeat("word ", 20) // ~100 chars each
	}
	doc := testDoc(strings.Join(paras, "\n\n"))

	r := NewRecursiveSplitter(Params{ChunkSize: 300, ChunkOverlap: 50})
	chunks, err := r.Chunk(context.Background(), doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), 300+50)
	}
	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
	}
}

func TestRecursiveSplitterDeterministic(t *testing.T) {
	doc := testDoc(strings.Repeat("All work and no play makes Jack a dull boy. ", 100))
	r := NewRecursiveSplitter(Params{ChunkSize: 400, ChunkOverlap: 80})

	a, err := r.Chunk(context.Background(), doc)
	require.NoError(t, err)
	b, err := r.Chunk(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRecursiveSplitterOverlapCarried(t *testing.T) {
	doc := testDoc(strings.Repeat("abcdefghij ", 100))
	r := NewRecursiveSplitter(Params{ChunkSize: 200, ChunkOverlap: 40})

	chunks, err := r.Chunk(context.Background(), doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Each chunk after the first begins with the previous chunk's tail.
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Content
		tail := prev[len(prev)-40:]
		assert.True(t, strings.HasPrefix(chunks[i].Content, tail))
	}
}

func TestRecursiveSplitterHardSplitsLongWord(t *testing.T) {
	doc := testDoc(strings.Repeat("x", 950))
	r := NewRecursiveSplitter(Params{ChunkSize: 300, ChunkOverlap: 0})

	chunks, err := r.Chunk(context.Background(), doc)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(chunks), 4)
}

func TestRecursiveSplitterEmptyDoc(t *testing.T) {
	r := NewRecursiveSplitter(Params{ChunkSize: 300, ChunkOverlap: 0})
	chunks, err := r.Chunk(context.Background(), testDoc("   \n\n  "))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSemanticSplitterProducesChunksWithMinSize(t *testing.T) {
	cfg := config.NewConfig()
	cfg.ChunkingStrategy = config.StrategySemantic
	cfg.SemanticMinChunkSize = 20
	cfg.SemanticBreakpointType = config.BreakpointPercentile
	cfg.SemanticBreakpointThresholdAmount = 50

	c := New(cfg, embed.NewStaticEmbedder(32), nil)

	content := "The Go scheduler maps goroutines onto threads. Channels synchronise communicating goroutines. " +
		"Bread rises when yeast ferments sugars. Sourdough needs a long cold proof. " +
		"Cycling uphill rewards a steady cadence. Descending demands good brakes."
	chunks, err := c.Chunk(context.Background(), testDoc(content))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var rebuilt []string
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Ordinal)
		assert.GreaterOrEqual(t, len(ch.Content), 1)
		rebuilt = append(rebuilt, ch.Content)
	}
	// No sentence is lost.
	joined := strings.Join(rebuilt, " ")
	assert.Contains(t, joined, "yeast")
	assert.Contains(t, joined, "goroutines")
}

func TestSemanticSplitterFallsBackForShortDocs(t *testing.T) {
	cfg := config.NewConfig()
	c := New(cfg, embed.NewStaticEmbedder(32), nil)

	chunks, err := c.Chunk(context.Background(), testDoc("One sentence only."))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First one. Second one! Third?\n\nNew paragraph without terminator")
	assert.Equal(t, []string{"First one.", "Second one!", "Third?", "New paragraph without terminator"}, got)
}

func TestThresholdTypes(t *testing.T) {
	distances := []float64{0.1, 0.2, 0.15, 0.9, 0.12, 0.18}

	for _, bt := range []string{
		config.BreakpointPercentile,
		config.BreakpointStddev,
		config.BreakpointIQR,
		config.BreakpointGradient,
	} {
		s := &SemanticSplitter{breakpointType: bt, thresholdAmount: 95}
		if bt == config.BreakpointStddev {
			s.thresholdAmount = 1.5
		}
		th := s.threshold(distances)
		assert.Greater(t, th, 0.0, bt)
	}
}

func TestAdaptParamsLongTailWidens(t *testing.T) {
	docs := []loader.Document{
		{Content: strings.Repeat("x", 500)},
		{Content: strings.Repeat("x", 600)},
		{Content: strings.Repeat("x", 8000)},
		{Content: strings.Repeat("x", 9000)},
	}
	out := AdaptParams(Params{ChunkSize: 1000, ChunkOverlap: 200}, docs, nil)
	assert.Greater(t, out.ChunkSize, 1000)
	assert.LessOrEqual(t, out.ChunkSize, 4000)
}

func TestAdaptParamsShortDocsNarrow(t *testing.T) {
	docs := []loader.Document{
		{Content: strings.Repeat("x", 250)},
		{Content: strings.Repeat("x", 300)},
		{Content: strings.Repeat("x", 280)},
	}
	out := AdaptParams(Params{ChunkSize: 1000, ChunkOverlap: 200}, docs, nil)
	assert.Less(t, out.ChunkSize, 1000)
	assert.GreaterOrEqual(t, out.ChunkSize, 200)
}

func TestAdaptParamsEmptyCorpusKeepsBase(t *testing.T) {
	base := Params{ChunkSize: 1000, ChunkOverlap: 200}
	assert.Equal(t, base, AdaptParams(base, nil, nil))
}
