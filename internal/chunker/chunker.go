// Package chunker splits a document into overlapping word windows.
//
// The input is normalised first: every whitespace run (including newlines)
// collapses to a single space and the ends are trimmed. Windows are then cut
// on word boundaries so that identical input always produces an identical,
// identically-ordered chunk sequence.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultSize is the default number of words per window.
	DefaultSize = 400
	// DefaultOverlap is the default number of words shared by consecutive windows.
	DefaultOverlap = 80
)

// ErrInvalidWindow is returned when the window parameters cannot produce a
// positive stride.
var ErrInvalidWindow = errors.New("chunker: invalid window parameters")

// Span is the half-open word range [Start, End) covered by one window.
type Span struct {
	Start int
	End   int
}

// Validate reports whether size and overlap describe a usable window.
// size must be at least 1, overlap must be non-negative and strictly smaller
// than size.
func Validate(size, overlap int) error {
	switch {
	case size < 1:
		return fmt.Errorf("%w: size %d must be >= 1", ErrInvalidWindow, size)
	case overlap < 0:
		return fmt.Errorf("%w: overlap %d must be >= 0", ErrInvalidWindow, overlap)
	case size <= overlap:
		return fmt.Errorf("%w: size %d must be greater than overlap %d", ErrInvalidWindow, size, overlap)
	}
	return nil
}

// Normalize collapses all whitespace runs to single spaces and trims the
// result.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Spans returns the word spans for a sequence of n words. Windows start at
// 0, stride, 2*stride, ... where stride = size - overlap, and continue while
// the start offset is below n; the last windows may be shorter than size.
// A sequence of at most size words yields a single span.
func Spans(n, size, overlap int) ([]Span, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	if n <= size {
		return []Span{{Start: 0, End: n}}, nil
	}

	stride := size - overlap
	spans := make([]Span, 0, (n+stride-1)/stride)
	for start := 0; start < n; start += stride {
		spans = append(spans, Span{Start: start, End: min(start+size, n)})
	}
	return spans, nil
}

// Chunk normalises text and splits it into overlapping windows of up to size
// words. Empty or whitespace-only input yields an empty slice and no error.
func Chunk(text string, size, overlap int) ([]string, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}

	words := strings.Fields(text)
	spans, err := Spans(len(words), size, overlap)
	if err != nil {
		return nil, err
	}

	chunks := make([]string, 0, len(spans))
	for _, sp := range spans {
		chunks = append(chunks, strings.Join(words[sp.Start:sp.End], " "))
	}
	return chunks, nil
}
