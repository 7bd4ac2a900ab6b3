package rag

import (
	"cmp"
	"context"
	"fmt"
	"slices"
)

// FlatBuilder builds FlatIndex values. It is the default IndexBuilder.
type FlatBuilder struct{}

// Build copies vectors into a new FlatIndex. All vectors must share one
// non-zero dimensionality.
func (FlatBuilder) Build(_ context.Context, vectors [][]float32) (Index, error) {
	return NewFlatIndex(vectors)
}

// FlatIndex is an exact nearest-neighbour index that scans every stored
// vector and ranks by squared Euclidean distance. It is immutable after
// construction and safe for concurrent Search calls.
type FlatIndex struct {
	// vecs holds one vector per chunk, in chunk order.
	vecs [][]float32
	// dim is the dimensionality shared by every vector in vecs.
	dim int
}

// NewFlatIndex builds a FlatIndex over a private copy of vectors.
func NewFlatIndex(vectors [][]float32) (*FlatIndex, error) {
	if len(vectors) == 0 {
		return &FlatIndex{}, nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: vector 0 is empty", ErrDimensionMismatch)
	}
	vecs := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
		vecs[i] = slices.Clone(v)
	}
	return &FlatIndex{vecs: vecs, dim: dim}, nil
}

// Len returns the number of indexed vectors.
func (f *FlatIndex) Len() int { return len(f.vecs) }

// Dimension returns the vector dimensionality, or 0 for an empty index.
func (f *FlatIndex) Dimension() int { return f.dim }

// Search ranks every vector by squared Euclidean distance to query and
// returns the nearest min(k, Len()) of them. Ties resolve to the lower
// position.
func (f *FlatIndex) Search(_ context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrConfiguration, k)
	}
	if len(f.vecs) == 0 {
		return nil, nil
	}
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(query), f.dim)
	}

	hits := make([]Hit, len(f.vecs))
	for i, v := range f.vecs {
		hits[i] = Hit{Position: i, Distance: SquaredL2(query, v)}
	}
	slices.SortFunc(hits, compareHits)

	return hits[:min(k, len(hits))], nil
}

// Close is a no-op; a FlatIndex holds only memory.
func (f *FlatIndex) Close() error { return nil }

// SquaredL2 returns the squared Euclidean distance between a and b,
// accumulated in float64. The caller guarantees len(a) == len(b).
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// compareHits orders hits by ascending distance, then ascending position.
func compareHits(a, b Hit) int {
	if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
		return c
	}
	return cmp.Compare(a.Position, b.Position)
}
