package embedder

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// defaultHashingDimensions matches the output size of the small sentence
// models typically used for local retrieval (all-MiniLM-L6-v2).
const defaultHashingDimensions = 384

// HashingEmbedder implements rag.Embedder with signed feature hashing over
// lowercase word tokens, L2-normalised. It needs no network or model files
// and is fully deterministic, which makes it the offline default and the
// embedder used in tests.
type HashingEmbedder struct {
	// dims is the output vector length.
	dims int
}

// NewHashingEmbedder returns a HashingEmbedder producing vectors of length
// dims. Non-positive values select 384.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = defaultHashingDimensions
	}
	return &HashingEmbedder{dims: dims}
}

// Dimensions returns the output vector length.
func (e *HashingEmbedder) Dimensions() int { return e.dims }

// Embed hashes every text independently. It honours ctx cancellation between
// texts so very large batches still respect deadlines.
func (e *HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *HashingEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dims)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		h := xxhash.Sum64String(tok)
		slot := h % uint64(e.dims) //nolint:gosec // dims is positive
		// The top bit picks the sign so collisions tend to cancel.
		if h>>63 == 1 {
			v[slot]--
		} else {
			v[slot]++
		}
	}

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
