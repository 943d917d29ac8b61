package loader

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelim = "---"

// rawFrontmatter mirrors the YAML block at the top of a post. Published
// defaults to true when absent, so the pointer distinguishes "unset".
type rawFrontmatter struct {
	Title       string   `yaml:"title"`
	Date        string   `yaml:"date"`
	Categories  []string `yaml:"categories"`
	Description string   `yaml:"description"`
	CoverImage  string   `yaml:"cover_image"`
	CoverVideo  string   `yaml:"cover_video"`
	ReadingTime string   `yaml:"reading_time"`
	Published   *bool    `yaml:"published"`
}

// splitFrontmatter separates a leading "---" delimited YAML block from the
// body. Files without a frontmatter block return an empty block and the
// whole text as body.
func splitFrontmatter(text string) (block string, body string) {
	if !strings.HasPrefix(text, frontmatterDelim) {
		return "", text
	}
	rest := text[len(frontmatterDelim):]
	// The opening delimiter must end its line.
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 || strings.TrimSpace(rest[:nl]) != "" {
		return "", text
	}
	rest = rest[nl+1:]

	end := strings.Index(rest, "\n"+frontmatterDelim)
	if end < 0 {
		return "", text
	}
	block = rest[:end]
	body = rest[end+len("\n"+frontmatterDelim):]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}
	return block, body
}

// parseFrontmatter parses the YAML block into metadata. A malformed block
// is an error; the caller decides whether to fall back to defaults.
func parseFrontmatter(block string) (rawFrontmatter, error) {
	var fm rawFrontmatter
	if block == "" {
		return fm, nil
	}
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return rawFrontmatter{}, fmt.Errorf("invalid frontmatter: %w", err)
	}
	return fm, nil
}
