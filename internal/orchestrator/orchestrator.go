// Package orchestrator runs every registered analysis task concurrently,
// waits for all of them, and hands the merged envelope to synthesis.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/envelope"
	"github.com/Kocoro-lab/battery-analyst/internal/metrics"
	"github.com/Kocoro-lab/battery-analyst/internal/tasks"
	"github.com/Kocoro-lab/battery-analyst/internal/tracing"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrJoinAborted is returned when a panic escapes task isolation and the
// join barrier cannot complete normally.
var ErrJoinAborted = errors.New("task join aborted")

var errNilOutput = errors.New("task returned no output")

// TaskSet supplies the tasks for a run.
type TaskSet interface {
	Tasks() []tasks.Task
}

// Synthesizer turns a merged envelope into a report. It must not fail.
type Synthesizer interface {
	Synthesize(ctx context.Context, env *envelope.Envelope) envelope.ReportResult
}

type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver adds an observer. Repeated calls accumulate.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// Orchestrator is safe for concurrent runs; each run owns its envelope.
type Orchestrator struct {
	tasks       TaskSet
	synthesizer Synthesizer
	observers   MultiObserver
	newID       func() string
	logger      *zap.Logger
}

func New(ts TaskSet, synth Synthesizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tasks:       ts,
		synthesizer: synth,
		newID:       uuid.NewString,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewRunID returns an identifier suitable for RunWithID.
func (o *Orchestrator) NewRunID() string { return o.newID() }

// Run executes one analysis run under a fresh run ID.
func (o *Orchestrator) Run(ctx context.Context, query, context string) (*envelope.Envelope, error) {
	return o.RunWithID(ctx, o.newID(), query, context)
}

type taskResult struct {
	out     envelope.TaskOutput
	status  envelope.TaskStatus
	elapsed time.Duration
}

// RunWithID executes one run under runID, letting callers subscribe to its
// events before it starts. Task failures never fail the run; the only error
// is ErrJoinAborted.
func (o *Orchestrator) RunWithID(ctx context.Context, runID, query, context string) (*envelope.Envelope, error) {
	all := o.tasks.Tasks()
	names := make([]string, len(all))
	for i, t := range all {
		names[i] = t.Name()
	}

	ctx, span := tracing.StartSpan(ctx, "orchestrator.run",
		attribute.String("run.id", runID),
		attribute.Int("run.tasks", len(all)),
	)
	start := time.Now()
	logger := o.logger.With(zap.String("run_id", runID))
	logger.Info("Run started", zap.Strings("tasks", names), zap.Int("query_len", len(query)))
	metrics.RunsStarted.Inc()

	env := envelope.New(runID, query, context, names)
	o.observers.RunStarted(runID, query, names)

	results := make([]taskResult, len(all))
	if len(all) > 0 {
		p := pool.New().WithMaxGoroutines(len(all))
		for i, t := range all {
			p.Go(func() {
				o.observers.TaskStarted(runID, t.Name())
				results[i] = o.runTask(ctx, logger, t, query, context)
				o.observers.TaskFinished(runID, t.Name(), results[i].status, results[i].out, results[i].elapsed)
			})
		}

		var join panics.Catcher
		join.Try(p.Wait)
		if r := join.Recovered(); r != nil {
			value := r.Value
			if inner, ok := value.(*panics.Recovered); ok {
				value = inner.Value
			}
			err := fmt.Errorf("%w: %v", ErrJoinAborted, value)
			logger.Error("Run aborted", zap.Error(err), zap.String("stack", string(r.Stack)))
			metrics.RunsCompleted.WithLabelValues("aborted").Inc()
			metrics.RunDuration.Observe(time.Since(start).Seconds())
			tracing.EndSpan(span, err)
			o.observers.RunAborted(runID, err)
			return nil, err
		}
	}

	for i, name := range names {
		env.Record(name, results[i].out, results[i].status)
	}

	report := o.synthesizer.Synthesize(ctx, env)
	if err := env.SetReport(report); err != nil {
		logger.Error("Report already set", zap.Error(err))
	}
	o.observers.SynthesisFinished(runID, *env.Report)

	env.CompletedAt = time.Now()
	sum := env.Summary()
	outcome := "success"
	if sum.Failed > 0 || sum.InBandErrors > 0 {
		outcome = "degraded"
	}
	metrics.RunsCompleted.WithLabelValues(outcome).Inc()
	metrics.RunDuration.Observe(env.CompletedAt.Sub(start).Seconds())
	span.SetAttributes(
		attribute.Int("run.failed", sum.Failed),
		attribute.Int("run.in_band_errors", sum.InBandErrors),
	)
	tracing.EndSpan(span, nil)

	logger.Info("Run completed",
		zap.Int("completed", sum.Completed),
		zap.Int("failed", sum.Failed),
		zap.Int("in_band_errors", sum.InBandErrors),
		zap.Duration("duration", env.CompletedAt.Sub(start)),
	)
	o.observers.RunFinished(env)
	return env, nil
}

// runTask calls one task with panic isolation. A panic or a nil output is
// replaced by a synthetic error output and the task is marked failed.
func (o *Orchestrator) runTask(ctx context.Context, logger *zap.Logger, t tasks.Task, query, context string) taskResult {
	name := t.Name()
	ctx, span := tracing.StartSpan(ctx, "task."+name, attribute.String("task.name", name))
	start := time.Now()

	var (
		out   envelope.TaskOutput
		catch panics.Catcher
	)
	catch.Try(func() { out = t.Run(ctx, query, context) })

	var cause error
	if r := catch.Recovered(); r != nil {
		cause = fmt.Errorf("panic: %v", r.Value)
		logger.Error("Task panicked",
			zap.String("task", name),
			zap.Any("panic", r.Value),
			zap.String("stack", string(r.Stack)),
		)
	} else if out == nil {
		cause = errNilOutput
		logger.Error("Task returned no output", zap.String("task", name))
	}

	res := taskResult{out: out, status: envelope.StatusCompleted, elapsed: time.Since(start)}
	if cause != nil {
		res.out = failedOutput(t, cause)
		res.status = envelope.StatusFailed
	}

	metrics.RecordTask(name, string(res.status), res.out.IsError(), res.elapsed)
	span.SetAttributes(
		attribute.String("task.status", string(res.status)),
		attribute.Bool("task.in_band_error", res.out.IsError()),
	)
	tracing.EndSpan(span, cause)
	logger.Debug("Task finished",
		zap.String("task", name),
		zap.String("status", string(res.status)),
		zap.Duration("duration", res.elapsed),
	)
	return res
}

// describedTask is implemented by tasks that know their display title and
// output shape.
type describedTask interface {
	Title() string
	MetricsOutput() bool
}

func failedOutput(t tasks.Task, cause error) envelope.TaskOutput {
	d, ok := t.(describedTask)
	if !ok {
		return envelope.FindingsError(title(t.Name()), cause)
	}
	if d.MetricsOutput() {
		return envelope.MetricsError(d.Title(), cause)
	}
	return envelope.FindingsError(d.Title(), cause)
}

func title(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
