package circuitbreaker

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestHTTPWrapper_ServerErrorsTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	hw := NewHTTPWrapper(srv.Client(), "flaky", "tools", zaptest.NewLogger(t))
	threshold := int(ConfigFor(ServiceHTTP).FailureThreshold)

	for i := 0; i < threshold; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := hw.Do(req)
		if err != nil {
			t.Fatalf("Expected 5xx response to be returned without error, got %v", err)
		}
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d", resp.StatusCode)
		}
		resp.Body.Close()
	}

	if !hw.IsCircuitBreakerOpen() {
		t.Fatal("Expected breaker to be open")
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := hw.Do(req); err != ErrCircuitBreakerOpen {
		t.Errorf("Expected ErrCircuitBreakerOpen, got %v", err)
	}
	if int(hits.Load()) != threshold {
		t.Errorf("Expected %d upstream hits, got %d", threshold, hits.Load())
	}
}

func TestHTTPWrapper_ClientErrorsDoNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	hw := NewHTTPWrapper(srv.Client(), "missing", "tools", zaptest.NewLogger(t))
	for i := 0; i < 10; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := hw.Do(req)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		resp.Body.Close()
	}
	if hw.IsCircuitBreakerOpen() {
		t.Error("4xx responses should not open the breaker")
	}
}
