// Package embedding provides the embedding provider abstraction used by the
// indexer and the context pack builder.
package embedding

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/zeebo/blake3"
)

// Provider generates embedding vectors for batches of texts.
type Provider interface {
	// EmbedBatch returns one vector per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector dimensionality the provider produces.
	Dimensions() int
}

// Cosine computes the cosine similarity of two vectors.
// Returns 0 for mismatched or zero-length inputs.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Static is a deterministic offline provider deriving vectors from content
// hashes. It exists for tests and for running the pipeline without an
// embedding backend; similarity is meaningless but stable.
type Static struct {
	Dim int
}

// NewStatic creates a Static provider with the given dimensionality.
func NewStatic(dim int) *Static {
	if dim <= 0 {
		dim = 64
	}
	return &Static{Dim: dim}
}

// Dimensions implements Provider.
func (s *Static) Dimensions() int { return s.Dim }

// EmbedBatch implements Provider.
func (s *Static) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = s.embed(text)
	}
	return out, nil
}

func (s *Static) embed(text string) []float32 {
	h := blake3.New()
	_, _ = h.WriteString(text)
	digest := h.Digest()

	vec := make([]float32, s.Dim)
	buf := make([]byte, 4)
	var norm float64
	for i := range vec {
		_, _ = digest.Read(buf)
		// Map 32 bits onto [-1, 1).
		v := float64(binary.LittleEndian.Uint32(buf))/float64(math.MaxUint32)*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}
