package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const arxivFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2505.00001v1</id>
    <published>2025-05-20T10:00:00Z</published>
    <title>Solid-State
      Electrolytes for Lithium Metal</title>
    <summary>  We study sulfide electrolytes.
      Results show improved stability.</summary>
    <author><name>A. Researcher</name></author>
    <author><name>B. Scientist</name></author>
    <link href="http://arxiv.org/abs/2505.00001v1" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/2505.00001v1" rel="related" type="application/pdf"/>
    <category term="cond-mat.mtrl-sci"/>
    <category term="physics.chem-ph"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2001.00002v1</id>
    <published>2020-01-02T10:00:00Z</published>
    <title>Old paper</title>
    <summary>Too old.</summary>
  </entry>
</feed>`

func newArxiv(t *testing.T, h http.HandlerFunc) *ArxivTool {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	tool := NewArxivTool(config.ArxivConfig{BaseURL: srv.URL + "/api/query", MaxResults: 10, DaysBack: 365}, srv.Client(), zaptest.NewLogger(t))
	tool.now = func() time.Time { return fixedNow }
	return tool
}

func TestArxivSearch(t *testing.T) {
	tool := newArxiv(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/api/query", r.URL.Path)
		assert.Equal(t, "all:solid state battery", q.Get("search_query"))
		assert.Equal(t, "10", q.Get("max_results"))
		assert.Equal(t, "submittedDate", q.Get("sortBy"))
		assert.Equal(t, "descending", q.Get("sortOrder"))
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(arxivFeed))
	})

	papers, err := tool.Search(context.Background(), "solid state battery")
	require.NoError(t, err)
	require.Len(t, papers, 1)

	p := papers[0]
	assert.Equal(t, "Solid-State Electrolytes for Lithium Metal", p.Title)
	assert.Equal(t, []string{"A. Researcher", "B. Scientist"}, p.Authors)
	assert.Equal(t, "2025-05-20", p.Published)
	assert.Equal(t, "We study sulfide electrolytes. Results show improved stability....", p.Summary)
	assert.Equal(t, "http://arxiv.org/pdf/2505.00001v1", p.PDFURL)
	assert.Equal(t, []string{"cond-mat.mtrl-sci", "physics.chem-ph"}, p.Categories)
}

func TestArxivKeepsFieldedQuery(t *testing.T) {
	tool := newArxiv(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ti:anode", r.URL.Query().Get("search_query"))
		_, _ = w.Write([]byte(`<feed xmlns="http://www.w3.org/2005/Atom"></feed>`))
	})
	papers, err := tool.Search(context.Background(), "ti:anode")
	require.NoError(t, err)
	assert.Empty(t, papers)
}

func TestArxivSummaryTruncated(t *testing.T) {
	long := strings.Repeat("x", 500)
	tool := newArxiv(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<feed xmlns="http://www.w3.org/2005/Atom"><entry><id>1</id><published>2025-05-30T00:00:00Z</published><title>T</title><summary>%s</summary></entry></feed>`, long)
	})
	papers, err := tool.Search(context.Background(), "x")
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, strings.Repeat("x", 300)+"...", papers[0].Summary)
}

func TestArxivErrorsInBand(t *testing.T) {
	t.Run("API error entry", func(t *testing.T) {
		tool := newArxiv(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<feed xmlns="http://www.w3.org/2005/Atom"><entry><id>http://arxiv.org/api/errors#incorrect_id</id><summary>incorrect id format</summary></entry></feed>`))
		})
		out, err := tool.Call(context.Background(), "bad")
		require.NoError(t, err)
		list, ok := out.([]map[string]string)
		require.True(t, ok)
		require.Len(t, list, 1)
		assert.Contains(t, list[0]["error"], "incorrect id format")
	})

	t.Run("Server error", func(t *testing.T) {
		tool := newArxiv(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		out, err := tool.Call(context.Background(), "battery")
		require.NoError(t, err)
		list := out.([]map[string]string)
		assert.Contains(t, list[0]["error"], "503")
	})
}

const quoteSummaryJSON = `{"quoteSummary":{"result":[{
	"price":{"longName":"Contemporary Amperex Technology Co., Limited","marketCap":{"raw":1100000000000}},
	"summaryProfile":{"sector":"Industrials","industry":"Electrical Equipment & Parts","fullTimeEmployees":116055,"website":"https://www.catl.com"},
	"summaryDetail":{"trailingPE":{"raw":21.5}},
	"financialData":{"totalRevenue":{"raw":362000000000},"profitMargins":{"raw":0.14}},
	"incomeStatementHistory":{"incomeStatementHistory":[{"endDate":{"fmt":"2024-12-31"},"totalRevenue":{"raw":362000000000},"grossProfit":{"raw":88000000000},"operatingIncome":{"raw":60000000000},"netIncome":{"raw":50700000000}}]}
}],"error":null}}`

func newFinance(t *testing.T, h http.HandlerFunc) *FinanceTool {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewFinanceTool(config.FinanceConfig{BaseURL: srv.URL}, srv.Client(), zaptest.NewLogger(t))
}

func TestTickerFor(t *testing.T) {
	cases := map[string]string{
		"CATL":               "300750.SZ",
		"LG Energy":          "373220.KS",
		"lg energy solution": "373220.KS",
		" Samsung SDI ":      "006400.KS",
		"SK On":              "096770.KS",
		"BYD":                "1211.HK",
	}
	for name, want := range cases {
		got, ok := TickerFor(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	_, ok := TickerFor("Tesla")
	assert.False(t, ok)
}

func TestFinanceCompanyInfo(t *testing.T) {
	tool := newFinance(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v10/finance/quoteSummary/300750.SZ", r.URL.Path)
		assert.Equal(t, "price,summaryProfile,summaryDetail,financialData", r.URL.Query().Get("modules"))
		_, _ = w.Write([]byte(quoteSummaryJSON))
	})

	info := tool.CompanyInfo(context.Background(), "CATL")
	assert.Equal(t, "Contemporary Amperex Technology Co., Limited", info["name"])
	assert.Equal(t, float64(1100000000000), info["market_cap"])
	assert.Equal(t, 0.14, info["profit_margin"])
	assert.Equal(t, "Industrials", info["sector"])
	assert.NotContains(t, info, "error")
}

func TestFinanceMissingFieldsAreNA(t *testing.T) {
	tool := newFinance(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"quoteSummary":{"result":[{"price":{"longName":"BYD"}}],"error":null}}`))
	})
	info := tool.CompanyInfo(context.Background(), "BYD")
	assert.Equal(t, "BYD", info["name"])
	assert.Equal(t, notAvailable, info["market_cap"])
	assert.Equal(t, notAvailable, info["pe_ratio"])
}

func TestFinanceUnknownCompany(t *testing.T) {
	var calls atomic.Int32
	tool := newFinance(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})
	info := tool.CompanyInfo(context.Background(), "Tesla")
	assert.Equal(t, "Company Tesla not found in database", info["error"])
	assert.Equal(t, "Company Tesla not found", tool.FinancialMetrics(context.Background(), "Tesla")["error"])
	assert.Zero(t, calls.Load())
}

func TestFinanceUpstreamError(t *testing.T) {
	tool := newFinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"quoteSummary":{"result":null,"error":{"code":"Not Found","description":"Quote not found for ticker symbol"}}}`))
	})
	info := tool.CompanyInfo(context.Background(), "CATL")
	assert.Equal(t, "yahoo finance: Quote not found for ticker symbol", info["error"])
}

func TestFinanceFinancialMetrics(t *testing.T) {
	tool := newFinance(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "incomeStatementHistory", r.URL.Query().Get("modules"))
		_, _ = w.Write([]byte(quoteSummaryJSON))
	})
	m := tool.FinancialMetrics(context.Background(), "catl")
	assert.Equal(t, "2024-12-31", m["period"])
	assert.Equal(t, float64(50700000000), m["net_income"])

	out, err := tool.Call(context.Background(), " metrics: CATL")
	require.NoError(t, err)
	viaCall, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(88000000000), viaCall["gross_profit"])
	assert.NotContains(t, viaCall, "name")
}

func TestFinanceCallCompares(t *testing.T) {
	var calls atomic.Int32
	tool := newFinance(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(quoteSummaryJSON))
	})

	out, err := tool.Call(context.Background(), "CATL, BYD, Tesla")
	require.NoError(t, err)
	cmp, ok := out.(map[string]map[string]any)
	require.True(t, ok)
	require.Len(t, cmp, 3)
	assert.Equal(t, 0.14, cmp["CATL"]["profit_margin"])
	assert.Equal(t, float64(362000000000), cmp["BYD"]["revenue"])
	assert.Equal(t, notAvailable, cmp["Tesla"]["market_cap"])
	assert.Equal(t, int32(2), calls.Load())
}

func newNews(t *testing.T, key string, h http.HandlerFunc) *NewsTool {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	tool := NewNewsTool(config.NewsConfig{BaseURL: srv.URL, APIKey: key, DaysBack: 30, PageSize: 10, Language: "en"}, srv.Client(), zaptest.NewLogger(t))
	tool.now = func() time.Time { return fixedNow }
	return tool
}

func TestNewsSearch(t *testing.T) {
	tool := newNews(t, "news-key", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/everything", r.URL.Path)
		assert.Equal(t, "news-key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "CATL sodium-ion", q.Get("q"))
		assert.Equal(t, "2025-05-02", q.Get("from"))
		assert.Equal(t, "en", q.Get("language"))
		assert.Equal(t, "relevancy", q.Get("sortBy"))
		assert.Equal(t, "10", q.Get("pageSize"))
		_, _ = w.Write([]byte(`{"status":"ok","totalResults":1,"articles":[{
			"source":{"id":null,"name":"Reuters"},
			"title":"CATL starts sodium-ion production",
			"description":"Mass production begins.",
			"url":"https://example.com/catl",
			"publishedAt":"2025-05-28T08:00:00Z"}]}`))
	})

	articles, err := tool.Search(context.Background(), "CATL sodium-ion")
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, Article{
		Title:       "CATL starts sodium-ion production",
		Description: "Mass production begins.",
		Source:      "Reuters",
		URL:         "https://example.com/catl",
		PublishedAt: "2025-05-28T08:00:00Z",
	}, articles[0])
}

func TestNewsErrorsInBand(t *testing.T) {
	t.Run("Missing key", func(t *testing.T) {
		tool := newNews(t, "", func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected without an API key")
		})
		out, err := tool.Call(context.Background(), "BYD")
		require.NoError(t, err)
		assert.Equal(t, errNoNewsKey.Error(), out.([]map[string]string)[0]["error"])
	})

	t.Run("API error", func(t *testing.T) {
		tool := newNews(t, "bad", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"status":"error","code":"apiKeyInvalid","message":"Your API key is invalid."}`))
		})
		out, err := tool.Call(context.Background(), "BYD")
		require.NoError(t, err)
		assert.Equal(t, "newsapi: apiKeyInvalid: Your API key is invalid.", out.([]map[string]string)[0]["error"])
	})
}

func TestBuild(t *testing.T) {
	cfg := config.Default().Tools
	got := Build(cfg, nil)
	assert.Len(t, got, 3)
	for _, name := range []string{"arxiv_search", "yahoo_finance", "news_search"} {
		tool, ok := got[name]
		require.True(t, ok, name)
		assert.NotEmpty(t, tool.Description())
	}
}
