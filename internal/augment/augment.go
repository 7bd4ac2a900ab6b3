// Package augment builds retrieval-augmented context for interview question
// generation. It indexes the candidate's document, retrieves the sections
// most relevant to a fixed topic query, and places them ahead of the full
// document so the downstream model sees the strongest material first.
package augment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/prepai-go/internal/budget"
	"github.com/54b3r/prepai-go/internal/logging"
	"github.com/54b3r/prepai-go/internal/rag"
)

const (
	// DefaultQuery steers retrieval toward project and architecture material.
	DefaultQuery = "technical projects architecture challenges design decisions impact"

	// DefaultTopK is the number of sections retrieved per build.
	DefaultTopK = 6

	retrievedHeader = "RETRIEVED CONTEXT (MOST RELEVANT SECTIONS):\n"
	documentHeader  = "FULL SOURCE DOCUMENT:\n"
	sectionSep      = "\n\n"
)

// Retriever is the subset of *rag.Store used by a Builder.
type Retriever interface {
	BuildIndex(ctx context.Context, document string) error
	Search(ctx context.Context, query string, topK int) ([]rag.Result, error)
}

// Builder produces augmented context for one document at a time. It is safe
// for concurrent use when Store is; the zero values of Query, TopK and
// MaxContextTokens select the defaults.
type Builder struct {
	// Store holds the single-document index.
	Store Retriever
	// Query is the retrieval query. Defaults to DefaultQuery.
	Query string
	// TopK is the number of sections to retrieve. Defaults to DefaultTopK.
	TopK int
	// MaxContextTokens caps the retrieved section text. Defaults to
	// budget.DefaultMaxContextTokens.
	MaxContextTokens int
}

// Build indexes document, retrieves the top sections for the configured
// query, and returns them composed ahead of the full document.
//
// When embedding is unavailable the un-augmented document is returned with
// a nil error so the caller can still proceed. Configuration errors are
// returned unchanged. An empty document yields "".
func (b *Builder) Build(ctx context.Context, document string) (string, error) {
	log := logging.FromContext(ctx)

	sections, err := b.retrieve(ctx, document)
	switch {
	case errors.Is(err, rag.ErrEmbeddingUnavailable):
		log.Warn("augment: embedding unavailable, using un-augmented document", slog.Any("error", err))
		return document, nil
	case err != nil:
		return "", fmt.Errorf("augment: %w", err)
	}

	if len(sections) == 0 {
		return document, nil
	}
	return Compose(strings.Join(sections, sectionSep), document), nil
}

// retrieve rebuilds the index and returns the retrieved section texts,
// nearest first, trimmed to the token budget.
func (b *Builder) retrieve(ctx context.Context, document string) ([]string, error) {
	if err := b.Store.BuildIndex(ctx, document); err != nil {
		return nil, err
	}

	results, err := b.Store.Search(ctx, b.query(), b.topK())
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}

	fitted := budget.FitChunks(texts, sectionSep, b.maxTokens())
	if dropped := len(texts) - len(fitted); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped retrieved sections to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(fitted)),
			slog.Int("max_tokens", b.maxTokens()),
		)
	}
	return fitted, nil
}

// Compose lays out retrieved context ahead of the full source document.
func Compose(retrieved, document string) string {
	return retrievedHeader + retrieved + sectionSep + documentHeader + document
}

func (b *Builder) query() string {
	if b.Query == "" {
		return DefaultQuery
	}
	return b.Query
}

func (b *Builder) topK() int {
	if b.TopK == 0 {
		return DefaultTopK
	}
	return b.TopK
}

func (b *Builder) maxTokens() int {
	if b.MaxContextTokens <= 0 {
		return budget.DefaultMaxContextTokens
	}
	return b.MaxContextTokens
}
