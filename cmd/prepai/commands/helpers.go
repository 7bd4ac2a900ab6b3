package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/prepai-go/internal/augment"
	"github.com/54b3r/prepai-go/internal/config"
	"github.com/54b3r/prepai-go/internal/document"
	"github.com/54b3r/prepai-go/internal/embedder"
	"github.com/54b3r/prepai-go/internal/history"
	"github.com/54b3r/prepai-go/internal/rag"
)

// Index backend names accepted by INDEX_BACKEND.
const (
	indexBackendFlat   = "flat"
	indexBackendQdrant = "qdrant"
)

// indexStack is the store plus the resources it was built from.
type indexStack struct {
	// store is the single-document retrieval store.
	store *rag.Store
	// embedder is shared with readiness probes.
	embedder rag.Embedder
	// backend is the resolved EMBEDDING_PROVIDER.
	backend string
	// qdrant is non-nil when INDEX_BACKEND=qdrant.
	qdrant *rag.QdrantBuilder
}

// Close releases the store and any Qdrant connection.
func (s *indexStack) Close() {
	_ = s.store.Close()
	if s.qdrant != nil {
		_ = s.qdrant.Close()
	}
}

// storeOptionsFromEnv reads CHUNK_SIZE, CHUNK_OVERLAP, and EMBED_TIMEOUT.
// Unset values keep the store defaults.
func storeOptionsFromEnv() (*rag.Options, error) {
	size, err := config.Int("CHUNK_SIZE", 0)
	if err != nil {
		return nil, err
	}
	overlap, err := config.Int("CHUNK_OVERLAP", 0)
	if err != nil {
		return nil, err
	}
	timeout, err := config.Duration("EMBED_TIMEOUT", 0)
	if err != nil {
		return nil, err
	}
	if size == 0 && overlap != 0 {
		return nil, fmt.Errorf("CHUNK_OVERLAP requires CHUNK_SIZE to be set")
	}
	return &rag.Options{ChunkSize: size, ChunkOverlap: overlap, EmbedTimeout: timeout}, nil
}

// newIndexStack validates the embedding configuration and assembles a store
// from the environment. reg may be nil to disable store metrics.
func newIndexStack(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (*indexStack, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	opts, err := storeOptionsFromEnv()
	if err != nil {
		return nil, err
	}
	opts.Logger = log
	if reg != nil {
		opts.Metrics = rag.NewMetrics(reg)
	}

	stack := &indexStack{embedder: emb, backend: embedder.Backend()}

	switch backend := config.String("INDEX_BACKEND", indexBackendFlat); backend {
	case indexBackendFlat:
		opts.Builder = rag.FlatBuilder{}
	case indexBackendQdrant:
		port, err := config.Int("QDRANT_PORT", 6334)
		if err != nil {
			return nil, err
		}
		qb, err := rag.NewQdrantBuilder(&rag.QdrantConfig{
			Host:             config.String("QDRANT_HOST", "localhost"),
			Port:             port,
			CollectionPrefix: config.String("QDRANT_COLLECTION", "prepai"),
			APIKey:           os.Getenv("QDRANT_API_KEY"),
			UseTLS:           os.Getenv("QDRANT_TLS") == "true",
		})
		if err != nil {
			return nil, err
		}
		stack.qdrant = qb
		opts.Builder = qb
	default:
		return nil, fmt.Errorf("unknown INDEX_BACKEND %q, valid values: flat, qdrant", backend)
	}

	store, err := rag.NewStore(emb, opts)
	if err != nil {
		if stack.qdrant != nil {
			_ = stack.qdrant.Close()
		}
		return nil, err
	}
	stack.store = store

	log.Info("index store ready",
		slog.String("embedder", stack.backend),
		slog.String("index", config.String("INDEX_BACKEND", indexBackendFlat)),
	)
	return stack, nil
}

// retrieveDefaults returns RETRIEVE_TOP_K and RETRIEVE_QUERY with the
// augment defaults applied.
func retrieveDefaults() (int, string, error) {
	topK, err := config.Int("RETRIEVE_TOP_K", augment.DefaultTopK)
	if err != nil {
		return 0, "", err
	}
	return topK, config.String("RETRIEVE_QUERY", augment.DefaultQuery), nil
}

// openHistory opens the build log. PREPAI_HISTORY_DB overrides the default
// path (~/.prepai/history.db); "disabled" turns it off. Failures disable
// history with a warning rather than failing the command.
func openHistory(log *slog.Logger) (history.Log, func()) {
	dbPath := os.Getenv("PREPAI_HISTORY_DB")
	if dbPath == "disabled" {
		log.Debug("history: disabled via PREPAI_HISTORY_DB=disabled")
		return nil, func() {}
	}
	if dbPath == "" {
		var err error
		dbPath, err = history.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil, func() {}
		}
	}
	hl, err := history.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open log, disabling", slog.Any("error", err))
		return nil, func() {}
	}
	log.Debug("history: log opened", slog.String("path", dbPath))
	return hl, func() { _ = hl.Close() }
}

// sourceFlags are the document inputs shared by index, retrieve, and context.
type sourceFlags struct {
	// resume lists files, globs, or URLs labelled RESUME.
	resume []string
	// job lists files, globs, or URLs labelled JOB.
	job []string
}

// loadDocument reads labelled and positional sources into one document.
// Labelled sources are composed into RESUME/JOB sections; positional
// sources are appended unlabelled.
func loadDocument(ctx context.Context, flags sourceFlags, args []string) (string, string, error) {
	if len(flags.resume)+len(flags.job)+len(args) == 0 {
		return "", "", fmt.Errorf("no sources given; pass file paths, globs, or URLs, or use --resume/--job")
	}
	loader := document.NewLoader(nil)

	var sections []document.Section
	for _, in := range []struct {
		label   string
		sources []string
	}{
		{document.LabelResume, flags.resume},
		{document.LabelJob, flags.job},
	} {
		if len(in.sources) == 0 {
			continue
		}
		text, err := loader.Load(ctx, in.sources)
		if err != nil {
			return "", "", err
		}
		sections = append(sections, document.Section{Label: in.label, Text: text})
	}

	var parts []string
	if composed := document.Compose(sections...); composed != "" {
		parts = append(parts, composed)
	}
	if len(args) > 0 {
		text, err := loader.Load(ctx, args)
		if err != nil {
			return "", "", err
		}
		parts = append(parts, text)
	}

	all := append(append(append([]string{}, flags.resume...), flags.job...), args...)
	return strings.Join(parts, "\n\n"), strings.Join(all, ","), nil
}
