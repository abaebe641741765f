package retrieval

import (
	"strings"

	"campus-assistant/internal/usecase/classifier"
)

const (
	// MaxContentLength bounds keyword-filtered content, in characters.
	MaxContentLength = 2000
	// MaxOverviewLength bounds overview content, in characters.
	MaxOverviewLength = 1500
	// FallbackContentLength is used when no section matches the query.
	FallbackContentLength = 1000
	// Ellipsis marks truncated content.
	Ellipsis = "..."
)

// ExtractRelevantContent returns the parts of content that matter for
// query. In overview mode the leading paragraphs are returned instead.
func ExtractRelevantContent(content, query string, isOverview bool) string {
	if isOverview {
		overview := strings.Join(splitParagraphs(content), "\n\n")
		return truncateWithEllipsis(overview, MaxOverviewLength)
	}

	keywords := matchTerms(classifier.Keywords(query))

	var matched []string
	for _, section := range splitSections(content) {
		lower := strings.ToLower(section)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				matched = append(matched, section)
				break
			}
		}
	}

	if len(matched) == 0 {
		fallback, _ := truncateRunes(content, FallbackContentLength)
		return fallback
	}

	return truncateWithEllipsis(strings.Join(matched, "\n\n"), MaxContentLength)
}

// matchTerms adds the singular form of plural keywords.
func matchTerms(keywords []string) []string {
	terms := make([]string, 0, len(keywords)*2)
	for _, kw := range keywords {
		terms = append(terms, kw)
		if len(kw) > 3 && strings.HasSuffix(kw, "s") {
			terms = append(terms, strings.TrimSuffix(kw, "s"))
		}
	}
	return terms
}

func truncateWithEllipsis(s string, n int) string {
	cut, truncated := truncateRunes(s, n)
	if truncated {
		return cut + Ellipsis
	}
	return cut
}
