package domain

import (
	"context"
	"time"
)

// Article is a knowledge-base entry owned by the knowledge-base service.
type Article struct {
	ID        string
	Title     string
	Slug      string
	Category  string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Source identifies an article cited by an assistant reply.
type Source struct {
	Title    string `json:"title"`
	Slug     string `json:"slug"`
	Category string `json:"category"`
}

// SourceOf returns the citation descriptor for the article.
func SourceOf(a Article) Source {
	return Source{Title: a.Title, Slug: a.Slug, Category: a.Category}
}

// RetrievedArticle is an article selected for a query together with the
// excerpt that will be placed into the generation prompt.
type RetrievedArticle struct {
	Article Article
	// Content is the extracted relevant content, bounded in length.
	Content string
	// Relevance is non-negative and non-increasing with search rank.
	Relevance float64
	Source    Source
}

// KnowledgeBaseClient defines the knowledge-base collaborator.
type KnowledgeBaseClient interface {
	// Search returns keyword hits, already rank-ordered.
	Search(ctx context.Context, query string) ([]SearchHit, error)
	// GetBySlug returns the full article.
	// Returns nil, nil if not found.
	GetBySlug(ctx context.Context, slug string) (*Article, error)
}
