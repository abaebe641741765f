package retrieval_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/usecase/classifier"
	"campus-assistant/internal/usecase/retrieval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockKnowledgeBase struct {
	mock.Mock
}

func (m *MockKnowledgeBase) Search(ctx context.Context, query string) ([]domain.SearchHit, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SearchHit), args.Error(1)
}

func (m *MockKnowledgeBase) GetBySlug(ctx context.Context, slug string) (*domain.Article, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Article), args.Error(1)
}

func hitsAcross(n int, categories ...string) []domain.SearchHit {
	hits := make([]domain.SearchHit, n)
	for i := range hits {
		slug := fmt.Sprintf("article-%d", i)
		hits[i] = domain.SearchHit{
			ID:       slug,
			Title:    fmt.Sprintf("Article %d", i),
			Slug:     slug,
			Category: categories[i%len(categories)],
			Excerpt:  "excerpt " + slug,
		}
	}
	return hits
}

func newEngine(kb domain.KnowledgeBaseClient) *retrieval.Engine {
	return retrieval.NewEngine(kb, classifier.New(classifier.DefaultConfig()), retrieval.DefaultConfig(), discardLogger())
}

func expectArticles(kb *MockKnowledgeBase, hits []domain.SearchHit) {
	for _, h := range hits {
		kb.On("GetBySlug", mock.Anything, h.Slug).Return(&domain.Article{
			ID:       h.ID,
			Title:    h.Title,
			Slug:     h.Slug,
			Category: h.Category,
			Content:  "# Overview\nAll about housing on campus.",
		}, nil).Maybe()
	}
}

func TestRetrieveRelevantArticles_RecommendationSpansCategories(t *testing.T) {
	kb := new(MockKnowledgeBase)
	// Three housing hits lead the ranking.
	hits := hitsAcross(10, "Housing", "Housing", "Housing", "Dining", "Clubs", "Transit")
	kb.On("Search", mock.Anything, "recommend articles about housing").Return(hits, nil)
	expectArticles(kb, hits)

	got, err := newEngine(kb).RetrieveRelevantArticles(context.Background(), "recommend articles about housing")

	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(got), 2)
	assert.LessOrEqual(t, len(got), 5)
	assert.GreaterOrEqual(t, len(retrieval.GetUniqueCategories(got)), 2)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i].Relevance, got[i-1].Relevance)
	}
	kb.AssertExpectations(t)
}

func TestRetrieveRelevantArticles_WindowSizes(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		hits    int
		wantLen int
	}{
		{name: "no results", query: "housing", hits: 0, wantLen: 0},
		{name: "direct capped", query: "housing deadlines", hits: 10, wantLen: 3},
		{name: "direct fewer hits", query: "housing deadlines", hits: 2, wantLen: 2},
		{name: "recommendation capped", query: "recommend housing articles", hits: 10, wantLen: 5},
		{name: "recommendation two hits", query: "recommend housing articles", hits: 2, wantLen: 2},
		{name: "recommendation one hit", query: "recommend housing articles", hits: 1, wantLen: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kb := new(MockKnowledgeBase)
			hits := hitsAcross(tt.hits, "Housing", "Dining", "Clubs", "Transit")
			kb.On("Search", mock.Anything, tt.query).Return(hits, nil)
			expectArticles(kb, hits)

			got, err := newEngine(kb).RetrieveRelevantArticles(context.Background(), tt.query)

			require.NoError(t, err)
			assert.Len(t, got, tt.wantLen)
		})
	}
}

func TestRetrieveRelevantArticles_FetchFailureFallsBackToExcerpt(t *testing.T) {
	kb := new(MockKnowledgeBase)
	hits := hitsAcross(2, "Housing", "Dining")
	kb.On("Search", mock.Anything, "housing").Return(hits, nil)
	kb.On("GetBySlug", mock.Anything, "article-0").Return(nil, errors.New("boom"))
	kb.On("GetBySlug", mock.Anything, "article-1").Return(nil, nil)

	got, err := newEngine(kb).RetrieveRelevantArticles(context.Background(), "housing")

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "article-0", got[0].Source.Slug)
	assert.Equal(t, "excerpt article-0", got[0].Content)
	assert.Equal(t, "Dining", got[1].Source.Category)
}

func TestRetrieveRelevantArticles_SearchError(t *testing.T) {
	kb := new(MockKnowledgeBase)
	kb.On("Search", mock.Anything, "housing").Return(nil, errors.New("search down"))

	got, err := newEngine(kb).RetrieveRelevantArticles(context.Background(), "housing")

	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestRetrieveRelevantArticles_OverviewForRecommendations(t *testing.T) {
	kb := new(MockKnowledgeBase)
	hits := hitsAcross(1, "Housing")
	kb.On("Search", mock.Anything, "recommend dining").Return(hits, nil)
	kb.On("GetBySlug", mock.Anything, "article-0").Return(&domain.Article{
		Slug:     "article-0",
		Category: "Housing",
		Content:  "Intro paragraph.\n\nSecond paragraph.",
	}, nil)

	got, err := newEngine(kb).RetrieveRelevantArticles(context.Background(), "recommend dining")

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Intro paragraph.\n\nSecond paragraph.", got[0].Content)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, retrieval.DefaultConfig().Validate())

	cfg := retrieval.DefaultConfig()
	cfg.DirectResults = 9
	assert.Error(t, cfg.Validate())

	cfg = retrieval.DefaultConfig()
	cfg.CandidatePool = 2
	assert.Error(t, cfg.Validate())
}
