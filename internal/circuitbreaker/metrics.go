package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "analyst_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)

	circuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "service", "state", "result"},
	)

	circuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_circuit_breaker_state_changes_total",
			Help: "Total number of state changes in circuit breaker",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)
)

type breakerKey struct {
	name    string
	service string
}

// MetricsCollector exports breaker state for every registered breaker.
type MetricsCollector struct {
	mu       sync.RWMutex
	breakers map[breakerKey]*CircuitBreaker
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{breakers: make(map[breakerKey]*CircuitBreaker)}
}

// GlobalMetricsCollector is shared by all wrappers in the process.
var GlobalMetricsCollector = NewMetricsCollector()

// RegisterCircuitBreaker hooks cb's state changes into the exported metrics.
func (mc *MetricsCollector) RegisterCircuitBreaker(name, service string, cb *CircuitBreaker) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.breakers[breakerKey{name, service}] = cb
	circuitBreakerState.WithLabelValues(name, service).Set(float64(StateClosed))

	cb.mu.Lock()
	prev := cb.config.OnStateChange
	cb.config.OnStateChange = func(cbName string, from, to State) {
		if prev != nil {
			prev(cbName, from, to)
		}
		circuitBreakerStateChanges.WithLabelValues(name, service, from.String(), to.String()).Inc()
		circuitBreakerState.WithLabelValues(name, service).Set(float64(to))
	}
	cb.mu.Unlock()
}

// RecordRequest records one request outcome.
func (mc *MetricsCollector) RecordRequest(name, service string, state State, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	circuitBreakerRequests.WithLabelValues(name, service, state.String(), result).Inc()
}

// Snapshot returns the current state of every registered breaker keyed by
// "service/name".
func (mc *MetricsCollector) Snapshot() map[string]State {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	out := make(map[string]State, len(mc.breakers))
	for k, cb := range mc.breakers {
		out[k.service+"/"+k.name] = cb.State()
	}
	return out
}

// UpdateMetrics refreshes the state gauges. Open breakers only move to
// half-open when observed, so this keeps the gauge from going stale.
func (mc *MetricsCollector) UpdateMetrics() {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	for k, cb := range mc.breakers {
		circuitBreakerState.WithLabelValues(k.name, k.service).Set(float64(cb.State()))
	}
}

// StartMetricsCollection refreshes gauges until ctx is done.
func StartMetricsCollection(ctx context.Context, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				GlobalMetricsCollector.UpdateMetrics()
			}
		}
	}()
}
