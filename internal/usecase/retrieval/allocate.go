package retrieval

import (
	"log/slog"
	"sort"
)

const (
	// maxScore is the relevance of the top search hit.
	maxScore = 100.0
	// rankStep is the relevance lost per search rank.
	rankStep = 10.0
)

// ScoreForRank maps a 0-indexed search rank to a relevance score. The
// search engine's ordering is the only signal, so the score is a
// non-increasing function of rank floored at zero.
func ScoreForRank(rank int) float64 {
	score := maxScore - rankStep*float64(rank)
	if score < 0 {
		return 0
	}
	return score
}

// AllocateConfig holds selection stage parameters.
type AllocateConfig struct {
	// ClosenessThreshold is the largest score gap across which an
	// unrepresented category is preferred over the next best candidate.
	ClosenessThreshold float64
	// RequireSpread forces at least two categories when the candidates
	// have them. It is set for recommendation queries.
	RequireSpread bool
}

// Allocate selects up to sc.Window candidates, diversifying categories (Stage 3).
func Allocate(sc *StageContext, cfg AllocateConfig, logger *slog.Logger) []Candidate {
	selected := Diversify(sc.Candidates, sc.Window, cfg)

	logger.Info("candidates_allocated",
		slog.String("retrieval_id", sc.RetrievalID),
		slog.Int("candidate_count", len(sc.Candidates)),
		slog.Int("window", sc.Window),
		slog.Int("selected_count", len(selected)),
		slog.Int("category_count", countCategories(selected)))

	return selected
}

// Diversify picks up to k candidates from a rank-ordered list. When the
// next best candidate's category is already represented, the first
// candidate of a new category within the closeness threshold is taken
// instead. The result is ordered by score, ties by rank.
func Diversify(candidates []Candidate, k int, cfg AllocateConfig) []Candidate {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}

	remaining := make([]Candidate, len(candidates))
	copy(remaining, candidates)

	picked := make([]Candidate, 0, k)
	represented := make(map[string]struct{})

	for len(picked) < k && len(remaining) > 0 {
		choice := 0
		if _, seen := represented[remaining[0].Category()]; seen {
			for i := 1; i < len(remaining); i++ {
				if remaining[0].Score-remaining[i].Score > cfg.ClosenessThreshold {
					break
				}
				if _, seen := represented[remaining[i].Category()]; !seen {
					choice = i
					break
				}
			}
		}

		c := remaining[choice]
		remaining = append(remaining[:choice], remaining[choice+1:]...)
		picked = append(picked, c)
		represented[c.Category()] = struct{}{}
	}

	if cfg.RequireSpread && len(represented) < 2 {
		for _, c := range remaining {
			if _, seen := represented[c.Category()]; !seen {
				picked[len(picked)-1] = c
				break
			}
		}
	}

	sort.SliceStable(picked, func(i, j int) bool {
		if picked[i].Score != picked[j].Score {
			return picked[i].Score > picked[j].Score
		}
		return picked[i].Rank < picked[j].Rank
	})
	return picked
}

func countCategories(candidates []Candidate) int {
	seen := make(map[string]struct{})
	for _, c := range candidates {
		seen[c.Category()] = struct{}{}
	}
	return len(seen)
}
