// Package classifier decides how a query should be treated before and
// after retrieval: recommendation-seeking, out of scope, or ambiguous.
package classifier

import (
	"campus-assistant/internal/domain"
)

var (
	strongRecommendIntents = []string{"recommend", "recommended", "recommendation", "suggest", "suggested", "suggestion"}
	weakRecommendIntents   = []string{"show me", "list", "what are some", "any good", "best", "top", "give me"}
	articleNouns           = []string{"article", "post", "guide", "resource", "page", "read", "reading", "wiki", "topic", "tip", "link"}

	generalKnowledgeTriggers = []string{
		"weather", "forecast", "recipe", "cook", "stock market", "stock price", "stocks",
		"capital of", "president of", "joke", "story", "stories", "bedtime story", "short story",
		"car repair", "fix my car", "oil change", "medical advice", "diagnose", "symptom", "prescription",
	}
	// Word pairs that trigger in any order, e.g. "repair my car".
	generalKnowledgePairs = [][2][]string{
		{{"car", "vehicle", "engine", "tire", "brake"}, {"repair", "fix", "fixing", "broken", "mechanic", "replace"}},
	}
	campusContextTokens = []string{
		"campus", "university", "college", "student", "undergrad", "graduate", "dorm", "residence hall",
		"housing", "class", "course", "professor", "semester", "quarter", "major", "club", "dining hall",
	}
)

// Config holds the institution vocabulary and ambiguity thresholds.
type Config struct {
	// HomeInstitution lists the tokens that name the home institution.
	HomeInstitution []string
	// Competitors lists tokens naming other institutions.
	Competitors []string
	// AmbiguityMargin is the largest score gap between category leaders
	// that still counts as a tie.
	AmbiguityMargin float64
	// AmbiguityMaxWords is the longest query, in significant words, that
	// may be ambiguous.
	AmbiguityMaxWords int
	// AmbiguityMinResults is the smallest retrieved set that may be ambiguous.
	AmbiguityMinResults int
}

// DefaultConfig returns the default vocabulary.
func DefaultConfig() Config {
	return Config{
		HomeInstitution: []string{"ridgeview", "rvu", "ridgeview university"},
		Competitors: []string{
			"stanford", "berkeley", "ucla", "harvard", "yale", "princeton", "mit",
			"columbia", "cornell", "usc", "nyu", "duke",
		},
		AmbiguityMargin:     20,
		AmbiguityMaxWords:   2,
		AmbiguityMinResults: 3,
	}
}

// AmbiguityOption is one way to narrow down an ambiguous query.
type AmbiguityOption struct {
	Category     string `json:"category"`
	ExampleTitle string `json:"exampleTitle"`
}

// Classifier holds the keyword predicates of the assistant.
type Classifier struct {
	cfg Config
}

// New creates a Classifier. Zero thresholds fall back to the defaults.
func New(cfg Config) *Classifier {
	def := DefaultConfig()
	if len(cfg.HomeInstitution) == 0 {
		cfg.HomeInstitution = def.HomeInstitution
	}
	if cfg.Competitors == nil {
		cfg.Competitors = def.Competitors
	}
	if cfg.AmbiguityMargin <= 0 {
		cfg.AmbiguityMargin = def.AmbiguityMargin
	}
	if cfg.AmbiguityMaxWords <= 0 {
		cfg.AmbiguityMaxWords = def.AmbiguityMaxWords
	}
	if cfg.AmbiguityMinResults <= 0 {
		cfg.AmbiguityMinResults = def.AmbiguityMinResults
	}
	return &Classifier{cfg: cfg}
}

// IsRecommendationQuery reports recommendation-intent language. "recommend"
// and "suggest" stand alone; softer phrasing such as "show me" or "list"
// needs an article-like noun.
func (c *Classifier) IsRecommendationQuery(q string) bool {
	n := Normalize(q)
	if hasAny(n, strongRecommendIntents) {
		return true
	}
	return hasAny(n, weakRecommendIntents) && hasAny(n, articleNouns)
}

// IsOutOfScopeQuery applies the scope rules in order. A query naming the
// home institution is always in scope.
func (c *Classifier) IsOutOfScopeQuery(q string) bool {
	n := Normalize(q)

	// Comparisons against the home institution stay in scope even when a
	// competitor is named, and so does anything else that names it.
	if hasAny(n, c.cfg.HomeInstitution) {
		return false
	}
	if hasAny(n, c.cfg.Competitors) {
		return true
	}
	if isGeneralKnowledge(n) && !hasAny(n, campusContextTokens) {
		return true
	}
	return false
}

func isGeneralKnowledge(normalized string) bool {
	if hasAny(normalized, generalKnowledgeTriggers) {
		return true
	}
	for _, pair := range generalKnowledgePairs {
		if hasAny(normalized, pair[0]) && hasAny(normalized, pair[1]) {
			return true
		}
	}
	return false
}

// IsAmbiguousQuery reports whether a short query matched several
// categories with near-equal relevance.
func (c *Classifier) IsAmbiguousQuery(q string, retrieved []domain.RetrievedArticle) bool {
	if len(retrieved) < c.cfg.AmbiguityMinResults {
		return false
	}
	if SignificantWordCount(q) > c.cfg.AmbiguityMaxWords {
		return false
	}

	best := make(map[string]float64)
	top := 0.0
	for _, a := range retrieved {
		cat := a.Article.Category
		if cur, ok := best[cat]; !ok || a.Relevance > cur {
			best[cat] = a.Relevance
		}
		if a.Relevance > top {
			top = a.Relevance
		}
	}
	if len(best) < 2 {
		return false
	}

	tied := 0
	for _, score := range best {
		if top-score <= c.cfg.AmbiguityMargin {
			tied++
		}
	}
	return tied >= 2
}

// GetAmbiguityOptions returns one option per category, using the first
// article seen for each category.
func GetAmbiguityOptions(retrieved []domain.RetrievedArticle) []AmbiguityOption {
	seen := make(map[string]struct{})
	var options []AmbiguityOption
	for _, a := range retrieved {
		cat := a.Article.Category
		if _, ok := seen[cat]; ok {
			continue
		}
		seen[cat] = struct{}{}
		options = append(options, AmbiguityOption{Category: cat, ExampleTitle: a.Article.Title})
	}
	return options
}
