package loader

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressridge/blogidx/internal/config"
)

func writePost(t *testing.T, dir, slug, content string) string {
	t.Helper()
	postDir := filepath.Join(dir, slug)
	require.NoError(t, os.MkdirAll(postDir, 0o755))
	path := filepath.Join(postDir, "index.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testLoader(t *testing.T, dir string) (*Loader, *config.Config) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.DataDir = dir
	cfg.BlogBaseURL = "https://blog.example.com"
	return New(cfg, nil, slog.New(slog.NewTextHandler(os.Stderr, nil))), cfg
}

func TestLoadParsesFrontmatter(t *testing.T) {
	dir := t.TempDir()
	writePost(t, dir, "go-generics", `---
title: Go Generics
date: "2024-03-01"
categories:
  - go
  - language
published: true
---
Generics arrived in Go 1.18.
`)

	l, _ := testLoader(t, dir)
	docs, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Equal(t, "Go Generics", doc.Meta.Title)
	assert.Equal(t, []string{"go", "language"}, doc.Meta.Categories)
	assert.Equal(t, "go-generics", doc.Meta.PostSlug)
	assert.Equal(t, "https://blog.example.com/go-generics", doc.Meta.URL)
	assert.True(t, doc.Meta.Published)
	assert.Contains(t, doc.Content, "Generics arrived")
	assert.NotContains(t, doc.Content, "title:")
	assert.Len(t, doc.Checksum, 64) // sha-256 hex
	assert.Positive(t, doc.LastModified)
}

func TestLoadWithoutFrontmatterUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	writePost(t, dir, "my-first-post", "Just a body, no frontmatter.\n")

	l, _ := testLoader(t, dir)
	docs, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, "My First Post", docs[0].Meta.Title)
	assert.True(t, docs[0].Meta.Published)
	assert.Equal(t, "Just a body, no frontmatter.\n", docs[0].Content)
}

func TestLoadMalformedFrontmatterSoftFails(t *testing.T) {
	dir := t.TempDir()
	writePost(t, dir, "broken", "---\ntitle: [unclosed\n---\nBody text.\n")

	l, _ := testLoader(t, dir)
	docs, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	// Defaults apply, whole file kept as content.
	assert.Equal(t, "Broken", docs[0].Meta.Title)
}

func TestLoadFiltersUnpublished(t *testing.T) {
	dir := t.TempDir()
	writePost(t, dir, "live", "---\npublished: true\n---\nlive\n")
	writePost(t, dir, "draft", "---\npublished: false\n---\ndraft\n")

	l, cfg := testLoader(t, dir)
	docs, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "live", docs[0].Meta.PostSlug)

	cfg.IndexOnlyPublished = false
	docs, err = l.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestLoadMissingDirFails(t *testing.T) {
	l, _ := testLoader(t, filepath.Join(t.TempDir(), "nope"))
	_, err := l.Load(context.Background())
	require.Error(t, err)
}

func TestLoadSkipsNonMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	writePost(t, dir, "post", "body\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	l, _ := testLoader(t, dir)
	docs, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestYouTubeEmbedNormalization(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"dQw4w9WgXcQ", "https://www.youtube.com/embed/dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "https://www.youtube.com/embed/dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "https://www.youtube.com/embed/dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "https://www.youtube.com/embed/dQw4w9WgXcQ"},
		{"https://vimeo.com/12345", "https://vimeo.com/12345"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, youtubeEmbedURL(tt.in), tt.in)
	}
}

func TestCoverImageJoinedAgainstBase(t *testing.T) {
	dir := t.TempDir()
	writePost(t, dir, "imgs", "---\ncover_image: images/cover.png\n---\nbody\n")

	l, _ := testLoader(t, dir)
	docs, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "https://blog.example.com/images/cover.png", docs[0].Meta.CoverImage)
}

func TestComputeChecksumAlgorithms(t *testing.T) {
	sha, err := ComputeChecksum("hello", config.ChecksumSHA256)
	require.NoError(t, err)
	assert.Len(t, sha, 64)

	md, err := ComputeChecksum("hello", config.ChecksumMD5)
	require.NoError(t, err)
	assert.Len(t, md, 32)

	_, err = ComputeChecksum("hello", "crc32")
	assert.Error(t, err)
}
