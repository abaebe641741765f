package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/usecase/classifier"
	"campus-assistant/internal/usecase/retrieval"
)

// OutOfScopeReply is returned instead of a generated answer for queries
// outside the campus domain.
const OutOfScopeReply = "I can only help with questions about our campus and its community. " +
	"Try asking about housing, dining, events or student services."

// ArticleRetriever retrieves articles for a query whose recommendation
// intent is already known.
type ArticleRetriever interface {
	Retrieve(ctx context.Context, query string, recommendation bool) ([]domain.RetrievedArticle, error)
}

// AnswerPlan describes how a query will be answered.
type AnswerPlan struct {
	Disposition domain.Disposition
	Articles    []domain.RetrievedArticle
	// Context is the rendered context block for the generation prompt.
	Context string
	Options []classifier.AmbiguityOption
	// Reply is set when the answer is produced locally without generation.
	Reply string
}

// Canned reports whether the plan answers without calling the generation service.
func (p *AnswerPlan) Canned() bool {
	return p.Disposition == domain.DispositionOutOfScope || p.Disposition == domain.DispositionAmbiguous
}

// Sources returns the citation descriptors of the planned articles.
func (p *AnswerPlan) Sources() []domain.Source {
	sources := make([]domain.Source, 0, len(p.Articles))
	for _, a := range p.Articles {
		sources = append(sources, a.Source)
	}
	return sources
}

// PlanAnswerUsecase classifies a query and gathers its context.
type PlanAnswerUsecase interface {
	Execute(ctx context.Context, query string) (*AnswerPlan, error)
}

type planAnswerUsecase struct {
	classifier *classifier.Classifier
	retriever  ArticleRetriever
	logger     *slog.Logger
}

// NewPlanAnswerUsecase creates a PlanAnswerUsecase.
func NewPlanAnswerUsecase(cls *classifier.Classifier, retriever ArticleRetriever, logger *slog.Logger) PlanAnswerUsecase {
	return &planAnswerUsecase{
		classifier: cls,
		retriever:  retriever,
		logger:     logger,
	}
}

func (u *planAnswerUsecase) Execute(ctx context.Context, query string) (*AnswerPlan, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyMessage
	}

	if u.classifier.IsOutOfScopeQuery(query) {
		u.logger.InfoContext(ctx, "query_out_of_scope")
		return &AnswerPlan{
			Disposition: domain.DispositionOutOfScope,
			Context:     retrieval.NoArticlesFound,
			Reply:       OutOfScopeReply,
		}, nil
	}

	recommendation := u.classifier.IsRecommendationQuery(query)

	articles, err := u.retriever.Retrieve(ctx, query, recommendation)
	if err != nil {
		// Retrieval failures degrade to an answer without context.
		u.logger.WarnContext(ctx, "retrieval_failed_continuing_without_context",
			slog.String("error", err.Error()))
		articles = nil
	}

	plan := &AnswerPlan{
		Disposition: domain.DispositionDirect,
		Articles:    articles,
		Context:     retrieval.CreateContextString(articles, u.logger),
	}

	switch {
	case recommendation:
		plan.Disposition = domain.DispositionRecommendation
	case u.classifier.IsAmbiguousQuery(query, articles):
		plan.Disposition = domain.DispositionAmbiguous
		plan.Options = classifier.GetAmbiguityOptions(articles)
		plan.Reply = ClarificationReply(plan.Options)
	}

	u.logger.InfoContext(ctx, "answer_planned",
		slog.String("disposition", string(plan.Disposition)),
		slog.Int("article_count", len(plan.Articles)))

	return plan, nil
}

// ClarificationReply asks the user to pick one of the ambiguity options.
func ClarificationReply(options []classifier.AmbiguityOption) string {
	var b strings.Builder
	b.WriteString("Your question could refer to a few different topics. Which one did you mean?")
	for _, opt := range options {
		fmt.Fprintf(&b, "\n- %s (for example \"%s\")", opt.Category, opt.ExampleTitle)
	}
	return b.String()
}
