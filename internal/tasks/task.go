// Package tasks holds the analyst roles that run during fan-out.
package tasks

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/Kocoro-lab/battery-analyst/internal/config"
	"github.com/Kocoro-lab/battery-analyst/internal/envelope"
	"github.com/Kocoro-lab/battery-analyst/internal/llm"
	"github.com/Kocoro-lab/battery-analyst/internal/metrics"
	"go.uber.org/zap"
)

// Task is one analysis step of a run. Run never fails across its boundary:
// internal errors come back as an output whose IsError is true.
type Task interface {
	Name() string
	Run(ctx context.Context, query, context string) envelope.TaskOutput
}

// Analyst runs a role's reasoning loop over its bound tools.
type Analyst struct {
	role   config.Role
	exec   *llm.ReactExecutor
	logger *zap.Logger
}

// NewAnalyst binds role to tools and the shared backend.
func NewAnalyst(role config.Role, tools []llm.Tool, backend llm.Backend, cfg llm.ReactConfig, logger *zap.Logger) *Analyst {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("task", role.Name))
	return &Analyst{
		role:   role,
		exec:   llm.NewReactExecutor(backend, tools, cfg, logger),
		logger: logger,
	}
}

func (a *Analyst) Name() string { return a.role.Name }

// Role returns the role this analyst was built from.
func (a *Analyst) Role() config.Role { return a.role }

func (a *Analyst) Title() string { return a.role.Title }

// MetricsOutput reports whether the analyst produces StructuredMetrics.
func (a *Analyst) MetricsOutput() bool { return a.role.Output == config.OutputMetrics }

func (a *Analyst) Run(ctx context.Context, query, context string) (out envelope.TaskOutput) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Analyst panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			out = a.failure(fmt.Errorf("panic: %v", r))
		}
	}()

	res, err := a.exec.Run(ctx, a.role.Instructions, envelope.FullQuery(query, context))
	metrics.ReasoningIterations.WithLabelValues(a.role.Name).Observe(float64(res.Iterations))
	if err != nil {
		a.logger.Warn("Analyst failed", zap.Int("iterations", res.Iterations), zap.Error(err))
		return a.failure(err)
	}

	a.logger.Debug("Analyst finished", zap.Int("iterations", res.Iterations))
	if a.MetricsOutput() {
		return envelope.StructuredMetrics{
			Analysis: res.Output,
			Status:   envelope.MetricsStatusSuccess,
		}
	}
	return envelope.ListFindings{Items: ParseFindings(res.Output)}
}

func (a *Analyst) failure(err error) envelope.TaskOutput {
	label := a.role.Title + " Agent"
	if a.MetricsOutput() {
		return envelope.MetricsError(label, err)
	}
	return envelope.FindingsError(label, err)
}

// ParseFindings keeps the bulleted lines of text with their markers
// stripped. Text without bullets becomes a single finding.
func ParseFindings(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !IsBullet(trimmed) {
			continue
		}
		if item := strings.TrimLeft(trimmed, "-•* "); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return []string{text}
	}
	return items
}

// IsBullet reports whether a trimmed line starts with a list marker.
func IsBullet(trimmed string) bool {
	return strings.HasPrefix(trimmed, "-") ||
		strings.HasPrefix(trimmed, "•") ||
		strings.HasPrefix(trimmed, "*")
}
