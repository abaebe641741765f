package kb_http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/infra/metrics"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Config holds knowledge-base client settings.
type Config struct {
	BaseURL   string
	CacheSize int
	CacheTTL  time.Duration
	// FetchRPS paces outbound requests. Zero disables pacing.
	FetchRPS float64
}

// Client implements domain.KnowledgeBaseClient over the knowledge-base HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *expirable.LRU[string, *domain.Article]
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a knowledge-base client.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.FetchRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.FetchRPS), max(1, int(cfg.FetchRPS)))
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		cache:      expirable.NewLRU[string, *domain.Article](cfg.CacheSize, nil, cfg.CacheTTL),
		limiter:    limiter,
		logger:     logger,
	}
}

type searchResponse struct {
	Query string             `json:"query"`
	Hits  []domain.SearchHit `json:"hits"`
}

type articleDTO struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Search returns rank-ordered keyword hits.
func (c *Client) Search(ctx context.Context, query string) ([]domain.SearchHit, error) {
	u, err := url.Parse(c.baseURL + "/v1/articles/search")
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	var sResp searchResponse
	found, err := c.getJSON(ctx, u.String(), &sResp)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	if !found {
		return []domain.SearchHit{}, nil
	}

	c.logger.DebugContext(ctx, "knowledge base search completed",
		slog.Int("hit_count", len(sResp.Hits)))
	return sResp.Hits, nil
}

// GetBySlug returns the full article, or nil when it does not exist.
func (c *Client) GetBySlug(ctx context.Context, slug string) (*domain.Article, error) {
	if article, ok := c.cache.Get(slug); ok {
		metrics.KnowledgeBaseCache.WithLabelValues("hit").Inc()
		return article, nil
	}
	metrics.KnowledgeBaseCache.WithLabelValues("miss").Inc()

	var dto articleDTO
	found, err := c.getJSON(ctx, c.baseURL+"/v1/articles/"+url.PathEscape(slug), &dto)
	if err != nil {
		return nil, fmt.Errorf("get article %q: %w", slug, err)
	}
	if !found {
		return nil, nil
	}

	article := &domain.Article{
		ID:        dto.ID,
		Title:     dto.Title,
		Slug:      dto.Slug,
		Category:  dto.Category,
		Content:   dto.Content,
		CreatedAt: dto.CreatedAt,
		UpdatedAt: dto.UpdatedAt,
	}
	c.cache.Add(slug, article)
	return article, nil
}

// getJSON decodes a 200 response into out. A 404 reports found=false.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}
