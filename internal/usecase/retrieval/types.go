package retrieval

import (
	"campus-assistant/internal/domain"
)

// StageContext carries data between retrieval stages.
type StageContext struct {
	// Input
	RetrievalID string
	Query       string

	// Stage 1 outputs
	Hits           []domain.SearchHit
	Recommendation bool
	Window         int

	// Stage 2 outputs
	Candidates []Candidate

	// Stage 3 outputs
	Selected []Candidate

	// Stage 4 outputs
	Articles []domain.RetrievedArticle
}

// Candidate is a ranked search hit awaiting selection.
type Candidate struct {
	Hit domain.SearchHit
	// Rank is the 0-indexed position in the search results.
	Rank  int
	Score float64
}

// Category returns the candidate's article category.
func (c Candidate) Category() string {
	return c.Hit.Category
}
