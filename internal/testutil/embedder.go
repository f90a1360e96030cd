package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/Abhi-Verma2005/oms-assistant/internal/knowledge"
)

// DeterministicEmbedder is an offline knowledge.Provider for tests.
// Each token contributes a stable pseudo-random direction, so texts sharing
// words land close in vector space and identical texts embed identically.
// No network, no API key.
type DeterministicEmbedder struct{}

// Embed returns a unit vector derived from the token bag of text.
func (DeterministicEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dim := int(knowledge.VectorDimension)
	acc := make([]float64, dim)

	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		state := h.Sum64()
		for i := 0; i < dim; i++ {
			// xorshift64 keeps the per-token stream cheap and stable
			state ^= state << 13
			state ^= state >> 7
			state ^= state << 17
			acc[i] += float64(int64(state)) / float64(math.MaxInt64)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, dim)
	if norm == 0 {
		out[0] = 1 // degenerate input still yields a valid unit vector
		return out, nil
	}
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out, nil
}
