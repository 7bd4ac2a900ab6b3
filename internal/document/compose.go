package document

import (
	"strings"
	"unicode/utf8"
)

// DefaultSectionLimit is the number of characters kept from each section.
const DefaultSectionLimit = 6000

// Labels used by the interview prep flow.
const (
	LabelResume = "RESUME"
	LabelJob    = "JOB"
)

// Section is one labelled part of a composed document.
type Section struct {
	// Label is written as "LABEL:" on the line above the text.
	Label string
	// Text is the section body.
	Text string
}

// Compose lays out sections as "LABEL:\n<text>" blocks separated by a blank
// line. Each text is cut to DefaultSectionLimit characters and sections whose
// text is blank are left out, so Compose of only blank sections is "".
func Compose(sections ...Section) string {
	return ComposeLimit(DefaultSectionLimit, sections...)
}

// ComposeLimit is Compose with an explicit per-section character limit.
// limit <= 0 disables the cut.
func ComposeLimit(limit int, sections ...Section) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		parts = append(parts, s.Label+":\n"+truncateRunes(s.Text, limit))
	}
	return strings.Join(parts, "\n\n")
}

// truncateRunes returns the first n characters of s.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
