package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Kocoro-lab/battery-analyst/internal/circuitbreaker"
	"github.com/Kocoro-lab/battery-analyst/internal/config"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const notAvailable = "N/A"

// companyTickers maps normalized company keys to exchange tickers.
var companyTickers = map[string]string{
	"lg_energy":     "373220.KS", // LG Energy Solution
	"samsung_sdi":   "006400.KS",
	"sk_innovation": "096770.KS", // parent of SK On
	"catl":          "300750.SZ",
	"byd":           "1211.HK",
	"panasonic":     "6752.T",
}

// companyAliases lets the model use common long-form names.
var companyAliases = map[string]string{
	"lg_energy_solution":              "lg_energy",
	"lges":                            "lg_energy",
	"sk_on":                           "sk_innovation",
	"contemporary_amperex_technology": "catl",
	"contemporary_amperex":            "catl",
	"panasonic_energy":                "panasonic",
	"samsung":                         "samsung_sdi",
}

// CompanyKey normalizes a company name: lower case, spaces to underscores.
func CompanyKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// TickerFor resolves a company name to its ticker.
func TickerFor(name string) (string, bool) {
	key := CompanyKey(name)
	if alias, ok := companyAliases[key]; ok {
		key = alias
	}
	t, ok := companyTickers[key]
	return t, ok
}

// FinanceTool reads company fundamentals from the Yahoo Finance quote summary API.
type FinanceTool struct {
	baseURL string
	http    *circuitbreaker.HTTPWrapper
	logger  *zap.Logger
}

func NewFinanceTool(cfg config.FinanceConfig, client *http.Client, logger *zap.Logger) *FinanceTool {
	return &FinanceTool{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    circuitbreaker.NewHTTPWrapper(client, "yahoo_finance", "tools", logger),
		logger:  logger,
	}
}

func (t *FinanceTool) Name() string { return "yahoo_finance" }

func (t *FinanceTool) Description() string {
	return "Get financial data for battery companies. " +
		"Available companies: LG Energy, Samsung SDI, SK Innovation, CATL, BYD, Panasonic. " +
		"Returns: market cap, revenue, margins, P/E ratio, etc. " +
		"Pass several names separated by commas to compare companies. " +
		"Prefix a single name with \"metrics:\" for its latest annual income statement."
}

const metricsPrefix = "metrics:"

// Call returns company info for one name, the income statement for
// "metrics:<name>", or a comparison for a comma-separated list.
func (t *FinanceTool) Call(ctx context.Context, input string) (any, error) {
	if rest, ok := strings.CutPrefix(strings.TrimSpace(input), metricsPrefix); ok {
		return t.FinancialMetrics(ctx, strings.TrimSpace(rest)), nil
	}
	if strings.Contains(input, ",") {
		var names []string
		for _, n := range strings.Split(input, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		return t.CompareCompanies(ctx, names)
	}
	return t.CompanyInfo(ctx, input), nil
}

// CompanyInfo returns headline fundamentals. Missing fields are "N/A";
// failures are reported under the "error" key.
func (t *FinanceTool) CompanyInfo(ctx context.Context, company string) map[string]any {
	ticker, ok := TickerFor(company)
	if !ok {
		return map[string]any{"error": fmt.Sprintf("Company %s not found in database", company)}
	}

	res, err := t.quoteSummary(ctx, ticker, "price", "summaryProfile", "summaryDetail", "financialData")
	if err != nil {
		t.logger.Warn("Company info lookup failed", zap.String("ticker", ticker), zap.Error(err))
		return map[string]any{"error": err.Error()}
	}

	return map[string]any{
		"name":          field(res, "price.longName"),
		"market_cap":    field(res, "price.marketCap.raw"),
		"revenue":       field(res, "financialData.totalRevenue.raw"),
		"profit_margin": field(res, "financialData.profitMargins.raw"),
		"pe_ratio":      field(res, "summaryDetail.trailingPE.raw"),
		"sector":        field(res, "summaryProfile.sector"),
		"industry":      field(res, "summaryProfile.industry"),
		"employees":     field(res, "summaryProfile.fullTimeEmployees"),
		"website":       field(res, "summaryProfile.website"),
	}
}

// FinancialMetrics returns the latest annual income statement.
func (t *FinanceTool) FinancialMetrics(ctx context.Context, company string) map[string]any {
	ticker, ok := TickerFor(company)
	if !ok {
		return map[string]any{"error": fmt.Sprintf("Company %s not found", company)}
	}

	res, err := t.quoteSummary(ctx, ticker, "incomeStatementHistory")
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	latest := res.Get("incomeStatementHistory.incomeStatementHistory.0")
	if !latest.Exists() {
		return map[string]any{"error": "No financial data available"}
	}

	period := latest.Get("endDate.fmt").String()
	if len(period) > 10 {
		period = period[:10]
	}
	return map[string]any{
		"total_revenue":    field(latest, "totalRevenue.raw"),
		"gross_profit":     field(latest, "grossProfit.raw"),
		"operating_income": field(latest, "operatingIncome.raw"),
		"net_income":       field(latest, "netIncome.raw"),
		"period":           period,
	}
}

// CompareCompanies fetches company info for each name concurrently and
// keeps market cap, revenue and profit margin.
func (t *FinanceTool) CompareCompanies(ctx context.Context, companies []string) (map[string]map[string]any, error) {
	infos := make([]map[string]any, len(companies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, c := range companies {
		g.Go(func() error {
			infos[i] = t.CompanyInfo(gctx, c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]map[string]any, len(companies))
	for i, c := range companies {
		info := infos[i]
		out[c] = map[string]any{
			"market_cap":    valueOr(info, "market_cap"),
			"revenue":       valueOr(info, "revenue"),
			"profit_margin": valueOr(info, "profit_margin"),
		}
	}
	return out, nil
}

func (t *FinanceTool) quoteSummary(ctx context.Context, ticker string, modules ...string) (gjson.Result, error) {
	u := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=%s",
		t.baseURL, url.PathEscape(ticker), url.QueryEscape(strings.Join(modules, ",")))

	body, err := getBody(ctx, t.http, u, nil)
	if msg := gjson.GetBytes(body, "quoteSummary.error.description"); msg.Exists() {
		return gjson.Result{}, fmt.Errorf("yahoo finance: %s", msg.String())
	}
	if err != nil {
		return gjson.Result{}, fmt.Errorf("yahoo finance: %w", err)
	}
	res := gjson.GetBytes(body, "quoteSummary.result.0")
	if !res.Exists() {
		return gjson.Result{}, fmt.Errorf("yahoo finance: no data for %s", ticker)
	}
	return res, nil
}

func field(r gjson.Result, path string) any {
	v := r.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return notAvailable
	}
	return v.Value()
}

func valueOr(m map[string]any, key string) any {
	if v, ok := m[key]; ok {
		return v
	}
	return notAvailable
}
