package retrieval

import (
	"strings"
	"unicode/utf8"
)

// splitSections splits article content into sections. A heading line
// starts a new section and a blank line ends one.
func splitSections(content string) []string {
	var sections []string
	var current []string

	flush := func() {
		if text := strings.TrimSpace(strings.Join(current, "\n")); text != "" {
			sections = append(sections, text)
		}
		current = current[:0]
	}

	for _, line := range strings.Split(normalizeNewlines(content), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case isHeading(trimmed):
			flush()
			current = append(current, line)
		default:
			current = append(current, line)
		}
	}
	flush()

	return sections
}

// splitParagraphs splits content at blank lines.
func splitParagraphs(content string) []string {
	var paragraphs []string
	for _, p := range strings.Split(normalizeNewlines(content), "\n\n") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

func isHeading(line string) bool {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	return n > 0 && n <= 6 && (n == len(line) || line[n] == ' ')
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:n]), true
}
