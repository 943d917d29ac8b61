package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// StaticEmbedder is a deterministic local embedder. It hashes character
// trigrams into a fixed-width vector and normalizes it, so similar texts
// land near each other without any network dependency. Used in tests and
// as an offline fallback.
type StaticEmbedder struct {
	dims int
}

// NewStaticEmbedder creates a deterministic embedder with the given
// vector width.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = 128
	}
	return &StaticEmbedder{dims: dims}
}

func (s *StaticEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = s.embedOne(text)
	}
	return vectors, nil
}

func (s *StaticEmbedder) embedOne(text string) []float32 {
	v := make([]float32, s.dims)
	runes := []rune(text)
	for i := 0; i+3 <= len(runes); i++ {
		h := fnv.New32a()
		h.Write([]byte(string(runes[i : i+3])))
		v[h.Sum32()%uint32(s.dims)]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}

func (s *StaticEmbedder) Dimensions() int { return s.dims }
func (s *StaticEmbedder) Model() string   { return "static-trigram" }
func (s *StaticEmbedder) Close() error    { return nil }
