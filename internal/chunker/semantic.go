package chunker

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/pressridge/blogidx/internal/config"
	"github.com/pressridge/blogidx/internal/embed"
	"github.com/pressridge/blogidx/internal/loader"
)

// SemanticSplitter breaks a document where the embedding distance between
// adjacent sentences spikes. The break threshold is derived from the
// distance distribution using the configured breakpoint rule. Documents
// too short to embed fall back to the recursive splitter.
type SemanticSplitter struct {
	embedder        embed.Embedder
	breakpointType  string
	thresholdAmount float64
	minChunkSize    int
	fallback        *RecursiveSplitter
	logger          *slog.Logger
}

// Chunk implements Chunker.
func (s *SemanticSplitter) Chunk(ctx context.Context, doc loader.Document) ([]Chunk, error) {
	sentences := splitSentences(doc.Content)
	if len(sentences) < 3 || s.embedder == nil {
		return s.fallback.Chunk(ctx, doc)
	}

	vectors, err := s.embedder.Embed(ctx, sentences)
	if err != nil {
		// Semantic splitting is an optimization; degrade to recursive.
		s.logger.Warn("semantic split failed, falling back to recursive",
			slog.String("source", doc.Source),
			slog.String("error", err.Error()))
		return s.fallback.Chunk(ctx, doc)
	}

	distances := make([]float64, len(vectors)-1)
	for i := 0; i < len(vectors)-1; i++ {
		distances[i] = cosineDistance(vectors[i], vectors[i+1])
	}

	threshold := s.threshold(distances)
	breaks := make(map[int]bool)
	for i, d := range distances {
		if d > threshold {
			breaks[i] = true
		}
	}

	var (
		chunks  []Chunk
		current strings.Builder
	)
	emit := func() {
		content := strings.TrimSpace(current.String())
		current.Reset()
		if content == "" {
			return
		}
		chunks = append(chunks, Chunk{
			Content: content,
			Source:  doc.Source,
			Ordinal: len(chunks),
			Meta:    doc.Meta,
		})
	}

	for i, sentence := range sentences {
		current.WriteString(sentence)
		current.WriteString(" ")
		if breaks[i] && current.Len() >= s.minChunkSize {
			emit()
		}
	}
	emit()

	if len(chunks) == 0 {
		return s.fallback.Chunk(ctx, doc)
	}
	return chunks, nil
}

// threshold derives the break threshold from the distance distribution.
func (s *SemanticSplitter) threshold(distances []float64) float64 {
	switch s.breakpointType {
	case config.BreakpointStddev:
		mean, std := meanStddev(distances)
		return mean + s.thresholdAmount*std
	case config.BreakpointIQR:
		q1 := quantile(distances, 0.25)
		q3 := quantile(distances, 0.75)
		return q3 + s.thresholdAmount*(q3-q1)
	case config.BreakpointGradient:
		grads := make([]float64, 0, len(distances))
		for i := 1; i < len(distances); i++ {
			grads = append(grads, math.Abs(distances[i]-distances[i-1]))
		}
		if len(grads) == 0 {
			return quantile(distances, 0.95)
		}
		return quantile(grads, s.thresholdAmount/100)
	default: // percentile
		return quantile(distances, s.thresholdAmount/100)
	}
}

// splitSentences breaks text into rough sentence units, treating blank
// lines as hard boundaries.
func splitSentences(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		start := 0
		runes := []rune(para)
		for i, r := range runes {
			if (r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n') {
				s := strings.TrimSpace(string(runes[start : i+1]))
				if s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
		if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
			out = append(out, tail)
		}
	}
	return out
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func meanStddev(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		std += (x - mean) * (x - mean)
	}
	std = math.Sqrt(std / float64(len(xs)))
	return mean, std
}

// quantile returns the q-th quantile (0..1) using nearest-rank on a
// sorted copy.
func quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
