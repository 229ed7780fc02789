package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/circuitbreaker"
	"github.com/Kocoro-lab/battery-analyst/internal/config"
	"go.uber.org/zap"
)

var errNoNewsKey = errors.New("news API key is not configured")

// Article is one news search hit.
type Article struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Source      string `json:"source"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
}

// NewsTool searches recent articles through NewsAPI's everything endpoint.
type NewsTool struct {
	baseURL  string
	apiKey   string
	daysBack int
	pageSize int
	language string
	http     *circuitbreaker.HTTPWrapper
	logger   *zap.Logger
	now      func() time.Time
}

func NewNewsTool(cfg config.NewsConfig, client *http.Client, logger *zap.Logger) *NewsTool {
	return &NewsTool{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		daysBack: cfg.DaysBack,
		pageSize: cfg.PageSize,
		language: cfg.Language,
		http:     circuitbreaker.NewHTTPWrapper(client, "newsapi", "tools", logger),
		logger:   logger,
		now:      time.Now,
	}
}

func (t *NewsTool) Name() string { return "news_search" }

func (t *NewsTool) Description() string {
	return "Search recent news articles about battery technology, competitors " +
		"(CATL, BYD, Samsung SDI, Panasonic), market trends, and industry developments."
}

// Call searches for query. Upstream failures come back as a one-element
// list carrying an "error" key.
func (t *NewsTool) Call(ctx context.Context, query string) (any, error) {
	articles, err := t.Search(ctx, query)
	if err != nil {
		t.logger.Warn("News search failed", zap.String("query", query), zap.Error(err))
		return errorList(err), nil
	}
	return articles, nil
}

// Search returns the most relevant articles published within the look-back window.
func (t *NewsTool) Search(ctx context.Context, query string) ([]Article, error) {
	if t.apiKey == "" {
		return nil, errNoNewsKey
	}

	params := url.Values{}
	params.Set("q", strings.TrimSpace(query))
	params.Set("from", t.now().AddDate(0, 0, -t.daysBack).Format("2006-01-02"))
	params.Set("language", t.language)
	params.Set("sortBy", "relevancy")
	params.Set("pageSize", strconv.Itoa(t.pageSize))

	header := http.Header{}
	header.Set("X-Api-Key", t.apiKey)

	body, err := getBody(ctx, t.http, t.baseURL+"/everything?"+params.Encode(), header)

	var resp newsResponse
	if len(body) > 0 {
		if jerr := json.Unmarshal(body, &resp); jerr != nil && err == nil {
			return nil, fmt.Errorf("newsapi: decode response: %w", jerr)
		}
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("newsapi: %s: %s", resp.Code, resp.Message)
	}
	if err != nil {
		return nil, fmt.Errorf("newsapi: %w", err)
	}

	articles := make([]Article, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		articles = append(articles, Article{
			Title:       a.Title,
			Description: a.Description,
			Source:      a.Source.Name,
			URL:         a.URL,
			PublishedAt: a.PublishedAt,
		})
	}
	return articles, nil
}

type newsResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}
