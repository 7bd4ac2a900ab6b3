// Package rag implements the in-memory semantic retrieval store: a document
// is chunked, embedded in one batched call, indexed for nearest-neighbour
// search, and queried for the top-k chunks closest to a query string.
//
// The embedding backend and the distance search are capabilities supplied by
// the caller (Embedder and IndexBuilder) so either can be swapped without
// changing the Store API.
package rag

import (
	"context"
	"errors"
)

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice and every vector has
	// the same dimensionality.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Hit is a single nearest-neighbour match returned by an Index.
type Hit struct {
	// Position is the zero-based index of the matched vector, which equals
	// the position of the chunk it was computed from.
	Position int

	// Distance is the squared Euclidean distance to the query vector.
	Distance float64
}

// Index is an immutable nearest-neighbour index over a fixed set of vectors.
// Implementations must be safe for concurrent Search calls.
type Index interface {
	// Len returns the number of indexed vectors.
	Len() int

	// Dimension returns the dimensionality shared by every indexed vector.
	Dimension() int

	// Search returns the min(k, Len()) hits nearest to query, ordered by
	// ascending distance; equal distances resolve by ascending Position.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)

	// Close releases any resources held by the index.
	Close() error
}

// IndexBuilder constructs a fresh Index from vectors in chunk order:
// vectors[i] must become the entry at Position i.
type IndexBuilder interface {
	Build(ctx context.Context, vectors [][]float32) (Index, error)
}

// Result is a retrieved chunk together with its distance to the query.
type Result struct {
	// Position is the zero-based chunk index within the indexed document.
	Position int `json:"position"`

	// Text is the chunk content.
	Text string `json:"text"`

	// Distance is the squared Euclidean distance to the query vector.
	Distance float64 `json:"distance"`
}

// Sentinel errors. Callers match them with errors.Is; the concrete errors
// returned by the store wrap them with call-specific detail.
var (
	// ErrConfiguration marks invalid caller-supplied parameters such as a
	// chunk size not larger than its overlap or a non-positive top-k.
	// Fatal to the call and never retried.
	ErrConfiguration = errors.New("rag: invalid configuration")

	// ErrEmbeddingUnavailable marks a failed or timed-out Embedder call.
	// Callers may retry or fall back to un-augmented context.
	ErrEmbeddingUnavailable = errors.New("rag: embedding unavailable")

	// ErrDimensionMismatch marks vectors whose dimensionality disagrees with
	// the index or with each other. It indicates a broken Embedder rather
	// than a transient condition.
	ErrDimensionMismatch = errors.New("rag: embedding dimension mismatch")
)
