package health

import (
	"context"
	"time"
)

// Pinger is anything with a connectivity probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker turns a Pinger into a Checker.
type PingChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	pinger   Pinger
	// breakerOpen, when set, reports an open circuit as degraded without probing.
	breakerOpen func() bool
}

func NewPingChecker(name string, critical bool, timeout time.Duration, p Pinger) *PingChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PingChecker{name: name, critical: critical, timeout: timeout, pinger: p}
}

// WithBreaker makes the checker report degraded while open() is true.
func (c *PingChecker) WithBreaker(open func() bool) *PingChecker {
	c.breakerOpen = open
	return c
}

func (c *PingChecker) Name() string           { return c.name }
func (c *PingChecker) IsCritical() bool       { return c.critical }
func (c *PingChecker) Timeout() time.Duration { return c.timeout }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	if c.breakerOpen != nil && c.breakerOpen() {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "circuit breaker open",
			Details: map[string]any{"circuit_breaker": "open"},
		}
	}
	start := time.Now()
	if err := c.pinger.Ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: c.name + " unreachable",
			Error:   err.Error(),
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: c.name + " reachable",
		Details: map[string]any{"latency_ms": time.Since(start).Milliseconds()},
	}
}

// CustomHealthChecker wraps a check function.
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{name: name, critical: critical, timeout: timeout, checkFn: checkFn}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
