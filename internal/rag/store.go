package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/54b3r/prepai-go/internal/chunker"
)

// defaultEmbedTimeout bounds every Embedder call made by the store.
const defaultEmbedTimeout = 30 * time.Second

// chunkSeparator joins retrieved chunks so the context stays readable when
// handed to an LLM.
const chunkSeparator = "\n\n"

// Options configures a Store. The zero value selects the defaults.
type Options struct {
	// ChunkSize is the number of words per chunk window. When zero, both
	// ChunkSize and ChunkOverlap fall back to the chunker defaults (400/80);
	// otherwise ChunkOverlap is used exactly as given, including zero.
	ChunkSize int

	// ChunkOverlap is the number of words shared by consecutive windows.
	ChunkOverlap int

	// EmbedTimeout bounds each Embedder call and each index search.
	// Defaults to 30s.
	EmbedTimeout time.Duration

	// Builder constructs the nearest-neighbour index. Defaults to FlatBuilder.
	Builder IndexBuilder

	// Logger receives build and retrieval events. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics, when non-nil, is updated on every build and retrieval.
	Metrics *Metrics
}

// snapshot is one fully built, immutable generation of the store: the chunk
// sequence and the index whose entry i was embedded from chunks[i].
type snapshot struct {
	chunks []string
	index  Index
}

// Store is an in-memory semantic retrieval store holding the index of exactly
// one document. BuildIndex replaces the whole index atomically; Retrieve and
// Search are read-only and may run concurrently with each other and with a
// build, always observing either the previous or the new snapshot.
type Store struct {
	// embedder is used for both chunks and queries so distances stay in one
	// embedding space.
	embedder Embedder
	// builder constructs a fresh Index for each build.
	builder IndexBuilder
	// size and overlap are the validated chunk window parameters.
	size    int
	overlap int
	// timeout bounds each embedding call and each search.
	timeout time.Duration
	log     *slog.Logger
	metrics *Metrics

	// buildMu serialises BuildIndex calls.
	buildMu sync.Mutex
	// mu guards snap. Searches hold the read lock for their duration so a
	// retired index is never closed underneath a reader.
	mu sync.RWMutex
	// snap is the visible generation; nil means the store is empty.
	snap *snapshot
}

// NewStore constructs an empty Store. It returns an error wrapping
// ErrConfiguration when the chunk window is invalid.
func NewStore(embedder Embedder, opts *Options) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if opts == nil {
		opts = &Options{}
	}

	size, overlap := opts.ChunkSize, opts.ChunkOverlap
	if size == 0 {
		size, overlap = chunker.DefaultSize, chunker.DefaultOverlap
	}
	if err := chunker.Validate(size, overlap); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	timeout := opts.EmbedTimeout
	if timeout <= 0 {
		timeout = defaultEmbedTimeout
	}
	builder := opts.Builder
	if builder == nil {
		builder = FlatBuilder{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Store{
		embedder: embedder,
		builder:  builder,
		size:     size,
		overlap:  overlap,
		timeout:  timeout,
		log:      log,
		metrics:  opts.Metrics,
	}, nil
}

// BuildStats describes the index a successful build published.
type BuildStats struct {
	// Chunks is the number of indexed chunks; 0 for an empty document.
	Chunks int
	// Dimension is the embedding dimensionality; 0 for an empty document.
	Dimension int
}

// BuildIndex chunks document, embeds every chunk in a single batched call,
// and replaces the store's index with the result.
//
// An empty or whitespace-only document moves the store to the empty state
// and returns nil. On any failure the previous index stays in place,
// unchanged; embedding failures and timeouts wrap ErrEmbeddingUnavailable.
func (s *Store) BuildIndex(ctx context.Context, document string) error {
	_, err := s.Build(ctx, document)
	return err
}

// Build is BuildIndex returning the size of the index it published. The
// stats come from the new snapshot itself, so a concurrent rebuild cannot
// leak into them the way a later Len call could.
func (s *Store) Build(ctx context.Context, document string) (BuildStats, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	start := time.Now()
	snap, err := s.build(ctx, document)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		s.metrics.observeBuild(outcomeError, elapsed.Seconds())
		s.log.Warn("rag: index build failed, previous index retained",
			slog.Any("error", err),
			slog.Duration("duration", elapsed),
		)
		return BuildStats{}, fmt.Errorf("rag: build index: %w", err)

	case snap == nil:
		s.swap(nil)
		s.metrics.observeBuild(outcomeEmpty, elapsed.Seconds())
		s.log.Debug("rag: empty document, index cleared")
		return BuildStats{}, nil
	}

	stats := BuildStats{Chunks: len(snap.chunks), Dimension: snap.index.Dimension()}
	s.swap(snap)
	s.metrics.observeBuild(outcomeOK, elapsed.Seconds())
	s.log.Info("rag: index built",
		slog.Int("chunks", stats.Chunks),
		slog.Int("dimension", stats.Dimension),
		slog.Duration("duration", elapsed),
	)
	return stats, nil
}

// build computes a new snapshot without touching the visible one. A nil
// snapshot with a nil error means the document was empty.
func (s *Store) build(ctx context.Context, document string) (*snapshot, error) {
	chunks, err := chunker.Chunk(document, s.size, s.overlap)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	vectors, err := s.embed(ctx, "build", chunks)
	if err != nil {
		return nil, err
	}

	idx, err := s.builder.Build(ctx, vectors)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	if idx.Len() != len(chunks) {
		_ = idx.Close()
		return nil, fmt.Errorf("index holds %d vectors for %d chunks", idx.Len(), len(chunks))
	}
	return &snapshot{chunks: chunks, index: idx}, nil
}

// swap publishes next as the visible snapshot and closes the one it
// replaces. Taking the write lock waits out every in-flight search on the
// old snapshot, so closing it afterwards is safe.
func (s *Store) swap(next *snapshot) {
	s.mu.Lock()
	prev := s.snap
	s.snap = next
	s.mu.Unlock()

	s.metrics.setChunks(next.len())
	if prev != nil {
		if err := prev.index.Close(); err != nil {
			s.log.Warn("rag: failed to release previous index", slog.Any("error", err))
		}
	}
}

// embedResult carries the outcome of an Embedder call across goroutines.
type embedResult struct {
	vectors [][]float32
	err     error
}

// embed calls the Embedder once for texts, bounded by the store timeout even
// if the Embedder ignores its context, and validates the response shape.
func (s *Store) embed(ctx context.Context, op string, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan embedResult, 1)
	go func() {
		vecs, err := s.embedder.Embed(ctx, texts)
		done <- embedResult{vectors: vecs, err: err}
	}()

	var res embedResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = embedResult{err: ctx.Err()}
	}
	s.metrics.observeEmbed(op, time.Since(start).Seconds())

	if res.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, res.err)
	}
	if len(res.vectors) != len(texts) {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts", ErrEmbeddingUnavailable, len(res.vectors), len(texts))
	}
	dim := len(res.vectors[0])
	for i, v := range res.vectors {
		if len(v) == 0 || len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return res.vectors, nil
}

// Search embeds query and returns the min(topK, Len()) nearest chunks in
// ascending distance order, ties broken by ascending chunk position.
// topK <= 0 is a configuration error. An empty store returns no results
// and no error without calling the Embedder.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		s.metrics.observeRetrieval(outcomeError)
		return nil, fmt.Errorf("rag: retrieve: %w: top_k must be positive, got %d", ErrConfiguration, topK)
	}
	if s.Len() == 0 {
		s.metrics.observeRetrieval(outcomeEmpty)
		return nil, nil
	}

	vectors, err := s.embed(ctx, "query", []string{query})
	if err != nil {
		s.metrics.observeRetrieval(outcomeError)
		return nil, fmt.Errorf("rag: retrieve: %w", err)
	}

	results, err := s.searchSnapshot(ctx, vectors[0], topK)
	if err != nil {
		s.metrics.observeRetrieval(outcomeError)
		return nil, fmt.Errorf("rag: retrieve: %w", err)
	}
	if len(results) == 0 {
		s.metrics.observeRetrieval(outcomeEmpty)
		return nil, nil
	}
	s.metrics.observeRetrieval(outcomeOK)
	return results, nil
}

// searchSnapshot runs the index search against whichever snapshot is
// visible now, holding the read lock so the snapshot cannot be retired
// mid-search.
func (s *Store) searchSnapshot(ctx context.Context, query []float32, topK int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snap
	if snap == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	hits, err := snap.index.Search(ctx, query, min(topK, snap.index.Len()))
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		if h.Position < 0 || h.Position >= len(snap.chunks) {
			return nil, fmt.Errorf("index returned position %d outside [0, %d)", h.Position, len(snap.chunks))
		}
		results = append(results, Result{
			Position: h.Position,
			Text:     snap.chunks[h.Position],
			Distance: h.Distance,
		})
	}
	return results, nil
}

// Retrieve returns the text of the min(topK, Len()) chunks nearest to query,
// nearest first, separated by a blank line. An empty store yields "".
func (s *Store) Retrieve(ctx context.Context, query string, topK int) (string, error) {
	results, err := s.Search(ctx, query, topK)
	if err != nil {
		return "", err
	}
	return JoinResults(results), nil
}

// JoinResults concatenates result texts in order, separated by a blank line.
func JoinResults(results []Result) string {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	return strings.Join(texts, chunkSeparator)
}

// Len returns the number of chunks in the visible index.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.len()
}

// Dimension returns the embedding dimensionality of the visible index, or 0
// when the store is empty.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return 0
	}
	return s.snap.index.Dimension()
}

// Chunks returns a copy of the visible chunk sequence in index order.
func (s *Store) Chunks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil
	}
	out := make([]string, len(s.snap.chunks))
	copy(out, s.snap.chunks)
	return out
}

// Close empties the store and releases the visible index.
func (s *Store) Close() error {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	s.mu.Lock()
	prev := s.snap
	s.snap = nil
	s.mu.Unlock()

	s.metrics.setChunks(0)
	if prev != nil {
		return prev.index.Close()
	}
	return nil
}

func (sn *snapshot) len() int {
	if sn == nil {
		return 0
	}
	return len(sn.chunks)
}
