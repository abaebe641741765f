package retrieval

import "fmt"

// Config holds retrieval engine settings.
type Config struct {
	// MaxResults caps the retrieved set.
	MaxResults int
	// DirectResults caps the retrieved set for direct queries.
	DirectResults int
	// MinRecommendation is the smallest recommendation set when enough
	// candidates exist.
	MinRecommendation int
	// CandidatePool is the number of search hits considered for selection.
	CandidatePool int
	// ClosenessThreshold is the score gap within which a new category wins.
	ClosenessThreshold float64
	// FetchConcurrency bounds concurrent article fetches.
	FetchConcurrency int
}

// DefaultConfig returns the default retrieval settings.
func DefaultConfig() Config {
	return Config{
		MaxResults:         5,
		DirectResults:      3,
		MinRecommendation:  2,
		CandidatePool:      10,
		ClosenessThreshold: 30,
		FetchConcurrency:   4,
	}
}

// Validate checks that the window sizes are consistent.
func (c Config) Validate() error {
	if c.MaxResults <= 0 {
		return fmt.Errorf("retrieval max results must be positive, got %d", c.MaxResults)
	}
	if c.DirectResults <= 0 || c.DirectResults > c.MaxResults {
		return fmt.Errorf("retrieval direct results must be in [1,%d], got %d", c.MaxResults, c.DirectResults)
	}
	if c.MinRecommendation < 1 || c.MinRecommendation > c.MaxResults {
		return fmt.Errorf("retrieval min recommendation must be in [1,%d], got %d", c.MaxResults, c.MinRecommendation)
	}
	if c.CandidatePool < c.MaxResults {
		return fmt.Errorf("retrieval candidate pool (%d) must be at least max results (%d)", c.CandidatePool, c.MaxResults)
	}
	if c.ClosenessThreshold < 0 {
		return fmt.Errorf("retrieval closeness threshold must be non-negative, got %v", c.ClosenessThreshold)
	}
	return nil
}
