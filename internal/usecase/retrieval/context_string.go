package retrieval

import (
	"fmt"
	"log/slog"
	"strings"

	"campus-assistant/internal/domain"
)

// NoArticlesFound is the context rendered for an empty retrieval.
const NoArticlesFound = "No relevant articles found."

// CreateContextString renders the retrieved articles as the context block
// of the generation prompt.
func CreateContextString(articles []domain.RetrievedArticle, logger *slog.Logger) string {
	if len(articles) == 0 {
		return NoArticlesFound
	}

	categories := GetUniqueCategories(articles)
	logger.Debug("context_block_rendered",
		slog.Int("article_count", len(articles)),
		slog.Int("category_count", len(categories)),
		slog.Bool("multi_category", len(categories) > 1))

	blocks := make([]string, 0, len(articles))
	for i, a := range articles {
		var b strings.Builder
		fmt.Fprintf(&b, "=== Article %d ===\n", i+1)
		fmt.Fprintf(&b, "Title: %s\n", a.Source.Title)
		fmt.Fprintf(&b, "Category: %s\n", a.Source.Category)
		fmt.Fprintf(&b, "Slug: %s\n", a.Source.Slug)
		b.WriteString("Content:\n")
		b.WriteString(a.Content)
		fmt.Fprintf(&b, "\n=== End Article %d ===", i+1)
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// GetUniqueCategories returns the distinct categories in order of first appearance.
func GetUniqueCategories(articles []domain.RetrievedArticle) []string {
	seen := make(map[string]struct{})
	var categories []string
	for _, a := range articles {
		cat := a.Source.Category
		if _, ok := seen[cat]; ok {
			continue
		}
		seen[cat] = struct{}{}
		categories = append(categories, cat)
	}
	return categories
}
