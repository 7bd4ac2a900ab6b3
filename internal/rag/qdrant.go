package rag

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// defaultUpsertBatch is the number of points sent per Upsert RPC.
const defaultUpsertBatch = 256

// defaultTieWindow is the number of extra candidates fetched beyond k so that
// equal-distance neighbours at the cut can be re-ordered by position.
const defaultTieWindow = 16

// QdrantConfig holds connection parameters for a Qdrant instance used as an
// index backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// CollectionPrefix names the per-build collections; each build creates
	// "<prefix>-<id>" (default: prepai).
	CollectionPrefix string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// TieWindow is the number of extra candidates requested per search so
	// ties at the k boundary resolve by position. Defaults to 16.
	TieWindow int
}

// QdrantBuilder is an IndexBuilder that materialises every build as a fresh
// Qdrant collection using Euclidean distance and exact (non-approximate)
// search. Closing an index drops its collection.
type QdrantBuilder struct {
	// client is the shared Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration.
	cfg *QdrantConfig
}

// NewQdrantBuilder connects to Qdrant and returns a ready builder.
func NewQdrantBuilder(cfg *QdrantConfig) (*QdrantBuilder, error) {
	if cfg == nil {
		cfg = &QdrantConfig{}
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = "prepai"
	}
	if cfg.TieWindow <= 0 {
		cfg.TieWindow = defaultTieWindow
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return &QdrantBuilder{client: client, cfg: cfg}, nil
}

// Client exposes the underlying gRPC client for health probes.
func (b *QdrantBuilder) Client() *qdrant.Client { return b.client }

// Build creates a new collection sized to the vectors and upserts one point
// per vector, using the vector's position as its numeric point ID. On any
// failure the partially built collection is dropped.
func (b *QdrantBuilder) Build(ctx context.Context, vectors [][]float32) (Index, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("qdrant: cannot build an index from zero vectors")
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim || dim == 0 {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}

	name := b.cfg.CollectionPrefix + "-" + uuid.NewString()
	err := b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim), //nolint:gosec // dimensions are bounded
			Distance: qdrant.Distance_Euclid,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create collection %q: %w", name, err)
	}

	idx := &QdrantIndex{client: b.client, collection: name, n: len(vectors), dim: dim, tieWindow: b.cfg.TieWindow}
	if err := idx.upsert(ctx, vectors); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return idx, nil
}

// Close closes the underlying Qdrant gRPC connection.
func (b *QdrantBuilder) Close() error {
	return b.client.Close()
}

// QdrantIndex is an Index stored in a single Qdrant collection.
type QdrantIndex struct {
	// client is the shared Qdrant gRPC client (owned by the builder).
	client *qdrant.Client
	// collection is the collection holding this build's points.
	collection string
	// n is the number of points in the collection.
	n int
	// dim is the vector dimensionality.
	dim int
	// tieWindow is the number of extra candidates fetched per search.
	tieWindow int
}

// upsert writes vectors in batches, waiting for each batch to be applied so
// the index is searchable once Build returns.
func (q *QdrantIndex) upsert(ctx context.Context, vectors [][]float32) error {
	for start := 0; start < len(vectors); start += defaultUpsertBatch {
		end := min(start+defaultUpsertBatch, len(vectors))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(uint64(i)), //nolint:gosec // positions are non-negative
				Vectors: qdrant.NewVectors(vectors[i]...),
			})
		}
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("qdrant: upsert into %q failed: %w", q.collection, err)
		}
	}
	return nil
}

// Len returns the number of indexed vectors.
func (q *QdrantIndex) Len() int { return q.n }

// Dimension returns the vector dimensionality.
func (q *QdrantIndex) Dimension() int { return q.dim }

// Search runs an exact Euclidean query. Qdrant reports the (non-squared)
// distance as the score; it is squared here so hits are comparable with
// FlatIndex. Candidates are re-sorted by (distance, position) before the cut.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrConfiguration, k)
	}
	if len(query) != q.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(query), q.dim)
	}

	limit := uint64(min(k+q.tieWindow, q.n)) //nolint:gosec // bounded by index size
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		Params:         &qdrant.SearchParams{Exact: qdrant.PtrOf(true)},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		d := float64(p.GetScore())
		hits = append(hits, Hit{Position: int(p.GetId().GetNum()), Distance: d * d}) //nolint:gosec // IDs come from positions
	}
	slices.SortFunc(hits, compareHits)
	return hits[:min(k, len(hits))], nil
}

// Close drops the collection backing this index.
func (q *QdrantIndex) Close() error {
	if err := q.client.DeleteCollection(context.Background(), q.collection); err != nil {
		return fmt.Errorf("qdrant: failed to delete collection %q: %w", q.collection, err)
	}
	return nil
}
