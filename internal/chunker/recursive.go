package chunker

import (
	"context"
	"strings"

	"github.com/pressridge/blogidx/internal/loader"
)

// separators in priority order: paragraph, line, sentence, word, character.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// RecursiveSplitter packs text into chunks of at most ChunkSize
// characters, splitting on the coarsest separator that fits and carrying
// ChunkOverlap characters of tail into the next chunk. Deterministic for
// fixed parameters.
type RecursiveSplitter struct {
	params Params
}

// NewRecursiveSplitter creates a splitter with the given parameters.
func NewRecursiveSplitter(params Params) *RecursiveSplitter {
	if params.ChunkSize <= 0 {
		params.ChunkSize = 1000
	}
	if params.ChunkOverlap < 0 || params.ChunkOverlap >= params.ChunkSize {
		params.ChunkOverlap = params.ChunkSize / 5
	}
	return &RecursiveSplitter{params: params}
}

// Chunk implements Chunker.
func (r *RecursiveSplitter) Chunk(ctx context.Context, doc loader.Document) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pieces := r.split(doc.Content, separators)
	merged := r.merge(pieces)

	chunks := make([]Chunk, 0, len(merged))
	for i, content := range merged {
		chunks = append(chunks, Chunk{
			Content: content,
			Source:  doc.Source,
			Ordinal: i,
			Meta:    doc.Meta,
		})
	}
	return chunks, nil
}

// split recursively breaks text on the first separator that produces
// pieces small enough, falling through to finer separators for oversized
// pieces.
func (r *RecursiveSplitter) split(text string, seps []string) []string {
	if len(text) <= r.params.ChunkSize {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}
	if len(seps) == 0 {
		return r.hardSplit(text)
	}

	sep := seps[0]
	if sep == "" {
		return r.hardSplit(text)
	}

	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return r.split(text, seps[1:])
	}

	var out []string
	for i, part := range parts {
		if i < len(parts)-1 {
			part += sep
		}
		if len(part) > r.params.ChunkSize {
			out = append(out, r.split(part, seps[1:])...)
		} else if strings.TrimSpace(part) != "" {
			out = append(out, part)
		}
	}
	return out
}

// hardSplit cuts at exact character boundaries as a last resort.
func (r *RecursiveSplitter) hardSplit(text string) []string {
	var out []string
	runes := []rune(text)
	for start := 0; start < len(runes); start += r.params.ChunkSize {
		end := start + r.params.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// merge packs adjacent pieces up to ChunkSize, carrying an overlap tail
// from each emitted chunk into the next.
func (r *RecursiveSplitter) merge(pieces []string) []string {
	var out []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunk := current.String()
		out = append(out, chunk)
		current.Reset()
		if r.params.ChunkOverlap > 0 {
			tail := chunk
			if len(tail) > r.params.ChunkOverlap {
				tail = tail[len(tail)-r.params.ChunkOverlap:]
			}
			current.WriteString(tail)
		}
	}

	for _, piece := range pieces {
		if current.Len()+len(piece) > r.params.ChunkSize && current.Len() > 0 {
			flush()
		}
		current.WriteString(piece)
		for current.Len() > r.params.ChunkSize {
			flush()
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		chunk := current.String()
		// Skip a trailing chunk that is nothing but carried overlap.
		pureOverlap := len(out) > 0 && len(chunk) <= r.params.ChunkOverlap &&
			strings.HasSuffix(out[len(out)-1], chunk)
		if !pureOverlap {
			out = append(out, chunk)
		}
	}
	return out
}
