package circuitbreaker

import (
	"net/http"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/tracing"
	"go.uber.org/zap"
)

// HTTPWrapper wraps an http.Client with a circuit breaker and records metrics consistently
type HTTPWrapper struct {
	client  *http.Client
	cb      *CircuitBreaker
	name    string
	service string
	logger  *zap.Logger
}

// NewHTTPWrapper creates a wrapper for one upstream API. name identifies the
// upstream (e.g. "arxiv"); service groups breakers in metrics.
func NewHTTPWrapper(client *http.Client, name, service string, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := NewCircuitBreaker(name, ConfigFor(ServiceHTTP), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker(name, service, cb)
	return &HTTPWrapper{client: client, cb: cb, name: name, service: service, logger: logger}
}

// Do executes an HTTP request through the circuit breaker. 5xx responses are treated as failures
// for breaker purposes but are still returned to the caller; 4xx do not trip the breaker.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	tracing.InjectTraceparent(req.Context(), req)

	var resp *http.Response
	err := hw.cb.Execute(req.Context(), func() error {
		var err error
		resp, err = hw.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return &httpStatusError{code: resp.StatusCode}
		}
		return nil
	})

	GlobalMetricsCollector.RecordRequest(hw.name, hw.service, hw.cb.State(), err == nil)

	if _, ok := err.(*httpStatusError); ok {
		return resp, nil
	}
	if err != nil {
		hw.logger.Debug("Upstream request failed",
			zap.String("upstream", hw.name),
			zap.String("url", req.URL.Redacted()),
			zap.Error(err),
		)
	}
	return resp, err
}

// IsCircuitBreakerOpen reports whether the upstream is currently rejected.
func (hw *HTTPWrapper) IsCircuitBreakerOpen() bool {
	return hw.cb.IsOpen()
}

// httpStatusError marks 5xx responses for breaker accounting
type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }
