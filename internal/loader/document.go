// Package loader discovers Markdown blog posts, parses their frontmatter,
// and produces immutable Document values ready for change detection and
// chunking. It can also fetch extra documents from configured URLs.
package loader

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pressridge/blogidx/internal/config"
)

// Metadata holds the frontmatter-derived and computed fields of a document.
type Metadata struct {
	Title       string   `json:"title"`
	Date        string   `json:"date,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	Description string   `json:"description,omitempty"`
	CoverImage  string   `json:"cover_image,omitempty"`
	CoverVideo  string   `json:"cover_video,omitempty"`
	ReadingTime string   `json:"reading_time,omitempty"`
	Published   bool     `json:"published"`

	URL           string `json:"url,omitempty"`
	PostSlug      string `json:"post_slug,omitempty"`
	ContentLength int    `json:"content_length"`
}

// Document is one loaded blog post or web page. Documents are values;
// stages that enrich a document return a new one rather than mutating
// in place.
type Document struct {
	// Source is the stable identity: a file path or URL.
	Source string

	// Content is the Markdown body with frontmatter stripped.
	Content string

	// Checksum is the hex digest of Content.
	Checksum string

	// LastModified is the file mtime in seconds since epoch.
	LastModified int64

	Meta Metadata
}

// ComputeChecksum hashes content with the configured algorithm.
func ComputeChecksum(content string, algorithm string) (string, error) {
	switch algorithm {
	case config.ChecksumSHA256:
		sum := sha256.Sum256([]byte(content))
		return hex.EncodeToString(sum[:]), nil
	case config.ChecksumMD5:
		sum := md5.Sum([]byte(content))
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("unsupported checksum algorithm: %s", algorithm)
	}
}

// humanizeSlug turns "my-first-post" into "My First Post".
func humanizeSlug(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool {
		return r == '-' || r == '_'
	})
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// joinURL joins a base URL and a path segment with exactly one slash.
func joinURL(base, path string) string {
	if base == "" {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// youtubeEmbedURL converts a bare YouTube video id or watch URL into the
// canonical embed URL. Anything that already looks like a full non-YouTube
// URL is returned unchanged.
func youtubeEmbedURL(v string) string {
	if v == "" {
		return ""
	}
	if strings.Contains(v, "youtube.com/embed/") {
		return v
	}
	if id, ok := extractYouTubeID(v); ok {
		return "https://www.youtube.com/embed/" + id
	}
	return v
}

func extractYouTubeID(v string) (string, bool) {
	if idx := strings.Index(v, "watch?v="); idx >= 0 {
		id := v[idx+len("watch?v="):]
		if amp := strings.IndexByte(id, '&'); amp >= 0 {
			id = id[:amp]
		}
		return id, id != ""
	}
	if idx := strings.Index(v, "youtu.be/"); idx >= 0 {
		id := v[idx+len("youtu.be/"):]
		if q := strings.IndexByte(id, '?'); q >= 0 {
			id = id[:q]
		}
		return id, id != ""
	}
	// A bare 11-character id with no scheme.
	if !strings.Contains(v, "/") && !strings.Contains(v, ".") && len(v) == 11 {
		return v, true
	}
	return "", false
}
