// Package embeddings provides EmbeddingProvider implementations.
package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"

	"github.com/ternarybob/etlplatform/internal/interfaces"
)

// OfflineProvider produces a deterministic pseudo-embedding from the hash of
// normalized input text, with no external dependency. It exists so the
// pipeline is runnable end-to-end (including tests) without a real
// embedding backend configured; it is not intended to produce
// semantically-meaningful vectors.
type OfflineProvider struct {
	dimension int
}

// NewOfflineProvider returns a provider producing vectors of the given
// dimension.
func NewOfflineProvider(dimension int) *OfflineProvider {
	if dimension <= 0 {
		dimension = 256
	}
	return &OfflineProvider{dimension: dimension}
}

var _ interfaces.EmbeddingProvider = (*OfflineProvider)(nil)

func (p *OfflineProvider) Dimension() int {
	return p.dimension
}

func (p *OfflineProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.embedOne(text), nil
}

func (p *OfflineProvider) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i, text := range texts {
		result[i] = p.embedOne(text)
	}
	return result, nil
}

func (p *OfflineProvider) embedOne(text string) []float32 {
	normalized := strings.ToLower(strings.TrimSpace(text))
	vec := make([]float32, p.dimension)

	seed := normalized
	if seed == "" {
		seed = " "
	}

	for i := 0; i < p.dimension; i += 8 {
		h := sha256.Sum256([]byte(seed + string(rune(i))))
		for j := 0; j < 8 && i+j < p.dimension; j++ {
			bits := binary.BigEndian.Uint32(h[j*4 : j*4+4])
			// Map to [-1, 1].
			vec[i+j] = float32(bits)/float32(1<<32)*2 - 1
		}
	}
	return vec
}
