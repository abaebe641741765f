package domain

// SearchHit represents a single hit from the knowledge-base keyword search.
type SearchHit struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Slug     string `json:"slug"`
	Category string `json:"category"`
	Excerpt  string `json:"excerpt"`
}

// AsArticle builds a partial article from the hit. It is used when the
// full article can no longer be fetched by slug.
func (h SearchHit) AsArticle() Article {
	return Article{
		ID:       h.ID,
		Title:    h.Title,
		Slug:     h.Slug,
		Category: h.Category,
		Content:  h.Excerpt,
	}
}
