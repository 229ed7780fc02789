package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/circuitbreaker"
	"github.com/Kocoro-lab/battery-analyst/internal/config"
	"github.com/Kocoro-lab/battery-analyst/internal/util"
	"go.uber.org/zap"
)

const arxivSummaryRunes = 300

// Paper is one arXiv search hit.
type Paper struct {
	Title      string   `json:"title"`
	Authors    []string `json:"authors"`
	Published  string   `json:"published"`
	Summary    string   `json:"summary"`
	PDFURL     string   `json:"pdf_url"`
	Categories []string `json:"categories"`
}

// ArxivTool searches recent papers through the arXiv Atom API.
type ArxivTool struct {
	baseURL    string
	maxResults int
	daysBack   int
	http       *circuitbreaker.HTTPWrapper
	logger     *zap.Logger
	now        func() time.Time
}

func NewArxivTool(cfg config.ArxivConfig, client *http.Client, logger *zap.Logger) *ArxivTool {
	return &ArxivTool{
		baseURL:    cfg.BaseURL,
		maxResults: cfg.MaxResults,
		daysBack:   cfg.DaysBack,
		http:       circuitbreaker.NewHTTPWrapper(client, "arxiv", "tools", logger),
		logger:     logger,
		now:        time.Now,
	}
}

func (t *ArxivTool) Name() string { return "arxiv_search" }

func (t *ArxivTool) Description() string {
	return "Search recent academic papers on battery technology, materials science, " +
		"electrochemistry, and energy storage. Returns: title, authors, summary, PDF link."
}

// Call searches for query. Upstream failures come back as a one-element
// list carrying an "error" key.
func (t *ArxivTool) Call(ctx context.Context, query string) (any, error) {
	papers, err := t.Search(ctx, query)
	if err != nil {
		t.logger.Warn("arXiv search failed", zap.String("query", query), zap.Error(err))
		return errorList(err), nil
	}
	return papers, nil
}

// Search returns up to maxResults papers newest first, skipping anything
// published before the look-back window.
func (t *ArxivTool) Search(ctx context.Context, query string) ([]Paper, error) {
	q := strings.TrimSpace(query)
	if !strings.Contains(q, ":") {
		q = "all:" + q
	}
	params := url.Values{}
	params.Set("search_query", q)
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(t.maxResults))
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")

	body, err := getBody(ctx, t.http, t.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("arxiv: %w", err)
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("arxiv: decode feed: %w", err)
	}

	cutoff := t.now().AddDate(0, 0, -t.daysBack)
	papers := make([]Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		if strings.Contains(e.ID, "/api/errors") {
			return nil, fmt.Errorf("arxiv: %s", collapse(e.Summary))
		}
		published, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published))
		if err != nil || published.Before(cutoff) {
			continue
		}
		papers = append(papers, e.paper(published))
	}
	return papers, nil
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href  string `xml:"href,attr"`
		Title string `xml:"title,attr"`
		Type  string `xml:"type,attr"`
	} `xml:"link"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
}

func (e atomEntry) paper(published time.Time) Paper {
	p := Paper{
		Title:      collapse(e.Title),
		Published:  published.Format("2006-01-02"),
		Summary:    util.Prefix(collapse(e.Summary), arxivSummaryRunes) + "...",
		Authors:    make([]string, 0, len(e.Authors)),
		Categories: make([]string, 0, len(e.Categories)),
	}
	for _, a := range e.Authors {
		p.Authors = append(p.Authors, strings.TrimSpace(a.Name))
	}
	for _, l := range e.Links {
		if l.Title == "pdf" || l.Type == "application/pdf" {
			p.PDFURL = l.Href
			break
		}
	}
	for _, c := range e.Categories {
		p.Categories = append(p.Categories, c.Term)
	}
	return p
}

// collapse folds the hard-wrapped whitespace arXiv puts in titles and abstracts.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
