// Package tools implements the external data sources the analysts can call.
package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/circuitbreaker"
	"github.com/Kocoro-lab/battery-analyst/internal/config"
	"github.com/Kocoro-lab/battery-analyst/internal/util"
	"go.uber.org/zap"
)

// DataTool is a named data source. Call may report upstream failures in-band
// by returning a value that carries an "error" key; a non-nil error means the
// tool itself could not run.
type DataTool interface {
	Name() string
	Description() string
	Call(ctx context.Context, input string) (any, error)
}

const maxBodyBytes = 4 << 20

const userAgent = "battery-analyst/1.0"

// errorList is the in-band failure shape for list-returning tools.
func errorList(err error) []map[string]string {
	return []map[string]string{{"error": err.Error()}}
}

// getBody performs a GET through hw and returns the body of a 200 response.
func getBody(ctx context.Context, hw *circuitbreaker.HTTPWrapper, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := hw.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, util.TruncateString(string(body), 200, false))
	}
	return body, nil
}

// Build constructs every data tool from configuration, keyed by name.
func Build(cfg config.ToolsConfig, logger *zap.Logger) map[string]DataTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.HTTPTimeout <= 0 {
		client.Timeout = 30 * time.Second
	}

	all := []DataTool{
		NewArxivTool(cfg.Arxiv, client, logger),
		NewFinanceTool(cfg.Finance, client, logger),
		NewNewsTool(cfg.News, client, logger),
	}
	out := make(map[string]DataTool, len(all))
	for _, t := range all {
		out[t.Name()] = t
	}
	return out
}
