package loader

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/pressridge/blogidx/internal/clock"
	"github.com/pressridge/blogidx/internal/config"
	idxerrors "github.com/pressridge/blogidx/internal/errors"
)

// Loader discovers and parses blog documents.
type Loader struct {
	cfg     *config.Config
	logger  *slog.Logger
	fetcher *WebFetcher
}

// New creates a Loader for the given configuration.
func New(cfg *config.Config, clk clock.Clock, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		cfg:     cfg,
		logger:  logger,
		fetcher: NewWebFetcher(clk, logger),
	}
}

// Load walks the data directory, parses every matching file, optionally
// fetches configured web URLs, and returns the documents in source order.
// Per-file problems are logged and soften to defaults; only a missing or
// unreadable data directory aborts the load.
func (l *Loader) Load(ctx context.Context) ([]Document, error) {
	info, err := os.Stat(l.cfg.DataDir)
	if err != nil {
		return nil, idxerrors.New(idxerrors.ErrCodeDataDirMissing,
			fmt.Sprintf("data directory %s is not accessible", l.cfg.DataDir), err)
	}
	if !info.IsDir() {
		return nil, idxerrors.Newf(idxerrors.ErrCodeDataDirMissing,
			"data directory %s is not a directory", l.cfg.DataDir)
	}

	var paths []string
	walkErr := filepath.WalkDir(l.cfg.DataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ok, err := doublestar.Match(l.cfg.DataDirPattern, d.Name())
		if err != nil {
			return fmt.Errorf("bad glob pattern %q: %w", l.cfg.DataDirPattern, err)
		}
		if ok {
			paths = append(paths, path)
		}
		return nil
	})
	if walkErr != nil {
		return nil, idxerrors.New(idxerrors.ErrCodeDataDirMissing,
			fmt.Sprintf("failed to walk %s", l.cfg.DataDir), walkErr)
	}
	sort.Strings(paths)

	docs := make([]Document, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := l.loadFile(path)
		if err != nil {
			l.logger.Warn("skipping unreadable file",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		docs = append(docs, doc)
	}

	for _, url := range l.cfg.WebURLs {
		doc, err := l.fetcher.Fetch(ctx, url, l.cfg.ChecksumAlgorithm)
		if err != nil {
			l.logger.Warn("web fetch failed",
				slog.String("url", url),
				slog.String("error", err.Error()))
			continue
		}
		docs = append(docs, doc)
	}

	if l.cfg.IndexOnlyPublished {
		published := docs[:0]
		for _, d := range docs {
			if d.Meta.Published {
				published = append(published, d)
			}
		}
		docs = published
	}

	l.logger.Info("documents loaded",
		slog.Int("count", len(docs)),
		slog.String("data_dir", l.cfg.DataDir))
	return docs, nil
}

// loadFile reads a single Markdown file into a Document.
func (l *Loader) loadFile(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Document{}, err
	}

	block, body := splitFrontmatter(string(raw))
	fm, err := parseFrontmatter(block)
	if err != nil {
		// Malformed frontmatter softens to defaults; the body is still indexed.
		l.logger.Warn("malformed frontmatter, using defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))
		fm = rawFrontmatter{}
		body = string(raw)
	}

	checksum, err := ComputeChecksum(body, l.cfg.ChecksumAlgorithm)
	if err != nil {
		return Document{}, err
	}

	slug := filepath.Base(filepath.Dir(path))
	if slug == "." || slug == string(filepath.Separator) {
		slug = trimExt(filepath.Base(path))
	}

	meta := Metadata{
		Title:         fm.Title,
		Date:          fm.Date,
		Categories:    fm.Categories,
		Description:   fm.Description,
		CoverImage:    fm.CoverImage,
		CoverVideo:    youtubeEmbedURL(fm.CoverVideo),
		ReadingTime:   fm.ReadingTime,
		Published:     fm.Published == nil || *fm.Published,
		PostSlug:      slug,
		URL:           joinURL(l.cfg.BlogBaseURL, slug),
		ContentLength: utf8.RuneCountInString(body),
	}
	if meta.Title == "" {
		meta.Title = humanizeSlug(slug)
	}
	if meta.CoverImage != "" && !isAbsoluteURL(meta.CoverImage) {
		meta.CoverImage = joinURL(l.cfg.BlogBaseURL, meta.CoverImage)
	}

	return Document{
		Source:       path,
		Content:      body,
		Checksum:     checksum,
		LastModified: info.ModTime().Unix(),
		Meta:         meta,
	}, nil
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

func isAbsoluteURL(s string) bool {
	return len(s) > 8 && (s[:7] == "http://" || s[:8] == "https://")
}
