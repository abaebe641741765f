package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/usecase/classifier"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Engine turns a query into a bounded, category-diversified article set.
type Engine struct {
	kb         domain.KnowledgeBaseClient
	classifier *classifier.Classifier
	cfg        Config
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewEngine creates a retrieval engine. Zero config fields take defaults.
func NewEngine(kb domain.KnowledgeBaseClient, cls *classifier.Classifier, cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.DirectResults <= 0 {
		cfg.DirectResults = min(def.DirectResults, cfg.MaxResults)
	}
	if cfg.MinRecommendation <= 0 {
		cfg.MinRecommendation = def.MinRecommendation
	}
	if cfg.CandidatePool < cfg.MaxResults {
		cfg.CandidatePool = max(def.CandidatePool, cfg.MaxResults)
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = def.FetchConcurrency
	}
	return &Engine{
		kb:         kb,
		classifier: cls,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer("campus-assistant/retrieval"),
	}
}

// RetrieveRelevantArticles classifies the query and retrieves articles for it.
func (e *Engine) RetrieveRelevantArticles(ctx context.Context, query string) ([]domain.RetrievedArticle, error) {
	return e.Retrieve(ctx, query, e.classifier.IsRecommendationQuery(query))
}

// Retrieve runs the retrieval pipeline with a known recommendation flag:
// search, window, score, diversify, fetch and extract.
func (e *Engine) Retrieve(ctx context.Context, query string, recommendation bool) ([]domain.RetrievedArticle, error) {
	ctx, span := e.tracer.Start(ctx, "retrieval.retrieve",
		trace.WithAttributes(attribute.Bool("retrieval.recommendation", recommendation)))
	defer span.End()

	sc := &StageContext{
		RetrievalID:    uuid.NewString(),
		Query:          query,
		Recommendation: recommendation,
	}

	// Stage 1: search
	hits, err := e.kb.Search(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, fmt.Errorf("knowledge base search: %w", err)
	}
	sc.Hits = hits
	sc.Window = e.window(len(hits), recommendation)

	if sc.Window == 0 {
		e.logger.Info("retrieval_no_results",
			slog.String("retrieval_id", sc.RetrievalID),
			slog.Bool("recommendation", recommendation))
		return []domain.RetrievedArticle{}, nil
	}

	// Stage 2: score
	pool := min(len(hits), e.cfg.CandidatePool)
	sc.Candidates = make([]Candidate, pool)
	for i := 0; i < pool; i++ {
		sc.Candidates[i] = Candidate{Hit: hits[i], Rank: i, Score: ScoreForRank(i)}
	}

	// Stage 3: diversify
	sc.Selected = Allocate(sc, AllocateConfig{
		ClosenessThreshold: e.cfg.ClosenessThreshold,
		RequireSpread:      recommendation,
	}, e.logger)

	// Stage 4: fetch + extract
	articles, err := e.fetch(ctx, sc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	sc.Articles = articles

	categories := GetUniqueCategories(sc.Articles)
	span.SetAttributes(
		attribute.Int("retrieval.hits", len(hits)),
		attribute.Int("retrieval.selected", len(sc.Articles)),
		attribute.Int("retrieval.categories", len(categories)))

	e.logger.Info("retrieval_completed",
		slog.String("retrieval_id", sc.RetrievalID),
		slog.Int("hit_count", len(hits)),
		slog.Int("window", sc.Window),
		slog.Int("article_count", len(sc.Articles)),
		slog.Int("category_count", len(categories)),
		slog.Bool("recommendation", recommendation))

	return sc.Articles, nil
}

// window returns the retrieved-set size for n search hits.
func (e *Engine) window(n int, recommendation bool) int {
	if n == 0 {
		return 0
	}
	if recommendation {
		w := min(n, e.cfg.MaxResults)
		if n >= e.cfg.MinRecommendation {
			w = max(w, e.cfg.MinRecommendation)
		}
		return w
	}
	return min(n, e.cfg.DirectResults)
}

// fetch loads the selected articles concurrently, keeping selection
// order. A failed or missing fetch falls back to the search excerpt.
func (e *Engine) fetch(ctx context.Context, sc *StageContext) ([]domain.RetrievedArticle, error) {
	articles := make([]domain.RetrievedArticle, len(sc.Selected))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.FetchConcurrency)

	for i, cand := range sc.Selected {
		g.Go(func() error {
			article, err := e.kb.GetBySlug(gctx, cand.Hit.Slug)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				e.logger.Warn("article_fetch_failed",
					slog.String("retrieval_id", sc.RetrievalID),
					slog.String("slug", cand.Hit.Slug),
					slog.String("error", err.Error()))
			}
			if article == nil {
				fallback := cand.Hit.AsArticle()
				article = &fallback
			}

			articles[i] = domain.RetrievedArticle{
				Article:   *article,
				Content:   ExtractRelevantContent(article.Content, sc.Query, sc.Recommendation),
				Relevance: cand.Score,
				Source:    domain.SourceOf(*article),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch articles: %w", err)
	}
	return articles, nil
}
