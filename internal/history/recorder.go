package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/54b3r/prepai-go/internal/logging"
	"github.com/54b3r/prepai-go/internal/rag"
)

// Indexer is the subset of *rag.Store a Recorder wraps.
type Indexer interface {
	Build(ctx context.Context, document string) (rag.BuildStats, error)
	Search(ctx context.Context, query string, topK int) ([]rag.Result, error)
}

// Recorder writes one row to Log for every build it performs. It satisfies
// augment.Retriever, so augmented builds are recorded the same way as plain
// ones. A nil Log makes it a pass-through.
type Recorder struct {
	Indexer
	// Log receives the rows. May be nil.
	Log Log
	// Source labels the rows.
	Source string
}

// Build builds the index and records the outcome. A failed write is logged
// and never fails the build; the index has already been replaced.
func (r *Recorder) Build(ctx context.Context, document string) (rag.BuildStats, error) {
	start := time.Now()
	stats, err := r.Indexer.Build(ctx, document)
	if r.Log == nil {
		return stats, err
	}

	b := NewBuild(document, r.Source, stats.Chunks, stats.Dimension, err, time.Since(start))
	if herr := r.Log.Record(ctx, b); herr != nil {
		logging.FromContext(ctx).Warn("history: failed to record build",
			slog.String("source", r.Source),
			slog.Any("error", herr),
		)
	}
	return stats, err
}

// BuildIndex is Build without the stats.
func (r *Recorder) BuildIndex(ctx context.Context, document string) error {
	_, err := r.Build(ctx, document)
	return err
}
