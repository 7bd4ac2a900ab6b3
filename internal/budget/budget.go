// Package budget provides token budget estimation and trimming for the
// context handed to a downstream LLM. The consumer may run on any backend
// with its own tokenizer, so this package uses a conservative
// character-based heuristic: 1 token ≈ 4 characters (English prose).
package budget

import (
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// messageOverheadTokens approximates the per-message framing cost most
	// chat APIs add on top of role and content.
	messageOverheadTokens = 4

	// DefaultMaxContextTokens is the default budget for retrieved context.
	// Six 400-word chunks fit with room to spare for the source document.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for msgs,
// summing role, content, and a fixed per-message overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverheadTokens
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// Truncate shortens s so that Estimate(s) <= maxTokens, cutting at the last
// whitespace before the limit when one exists and never splitting a UTF-8
// sequence. maxTokens <= 0 returns "".
func Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	limit := maxTokens*charsPerToken + charsPerToken - 1
	if len(s) <= limit {
		return s
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if i := strings.LastIndexAny(s[:cut], " \t\n"); i > 0 {
		cut = i
	}
	return strings.TrimRight(s[:cut], " \t\n")
}

// FitChunks returns the longest prefix of chunks whose combined estimate,
// including sep between consecutive chunks, stays within maxTokens. Chunks
// are assumed to be ordered most relevant first, so the least relevant are
// dropped. The first chunk is truncated rather than dropped when it alone
// exceeds the budget.
func FitChunks(chunks []string, sep string, maxTokens int) []string {
	if maxTokens <= 0 || len(chunks) == 0 {
		return nil
	}

	used := 0
	for i, c := range chunks {
		cost := Estimate(c)
		if i > 0 {
			cost += Estimate(sep)
		}
		if used+cost > maxTokens {
			if i == 0 {
				return []string{Truncate(c, maxTokens)}
			}
			return chunks[:i]
		}
		used += cost
	}
	return chunks
}
