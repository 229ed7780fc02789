package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/config"
	"github.com/Kocoro-lab/battery-analyst/internal/envelope"
	"github.com/Kocoro-lab/battery-analyst/internal/llm"
	"github.com/Kocoro-lab/battery-analyst/internal/synthesis"
	"github.com/Kocoro-lab/battery-analyst/internal/tasks"
	"github.com/Kocoro-lab/battery-analyst/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// funcTask is a task backed by a function.
type funcTask struct {
	name string
	run  func(ctx context.Context, query, context string) envelope.TaskOutput
}

func (f funcTask) Name() string { return f.name }
func (f funcTask) Run(ctx context.Context, query, context string) envelope.TaskOutput {
	return f.run(ctx, query, context)
}

type taskList []tasks.Task

func (l taskList) Tasks() []tasks.Task { return l }

// countingSynth records how often it ran and what it saw.
type countingSynth struct {
	calls atomic.Int32
	seen  func(env *envelope.Envelope)
}

func (c *countingSynth) Synthesize(_ context.Context, env *envelope.Envelope) envelope.ReportResult {
	c.calls.Add(1)
	if c.seen != nil {
		c.seen(env)
	}
	return envelope.ReportResult{ExecutiveSummary: "s", FullReport: "s\n\n- r", Recommendations: []string{"r"}}
}

func findings(items ...string) envelope.TaskOutput { return envelope.ListFindings{Items: items} }

func sleeper(name string, d time.Duration) funcTask {
	return funcTask{name: name, run: func(context.Context, string, string) envelope.TaskOutput {
		time.Sleep(d)
		return findings(name + " done")
	}}
}

func TestRunWaitsForSlowestTask(t *testing.T) {
	synth := &countingSynth{}
	synth.seen = func(env *envelope.Envelope) {
		assert.True(t, env.AllTerminal(), "synthesis must see every task finished")
		assert.Len(t, env.TaskOutputs, 3)
	}
	o := New(taskList{
		sleeper("research", 10*time.Millisecond),
		sleeper("financial", 50*time.Millisecond),
		sleeper("competitor", 200*time.Millisecond),
	}, synth, WithLogger(zaptest.NewLogger(t)))

	start := time.Now()
	env, err := o.Run(context.Background(), "q", "")
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 450*time.Millisecond, "tasks should overlap")
	for _, name := range []string{"research", "financial", "competitor"} {
		assert.Equal(t, envelope.StatusCompleted, env.TaskStatuses[name])
	}
	assert.Equal(t, int32(1), synth.calls.Load())
}

func TestRunIsolatesPanic(t *testing.T) {
	o := New(taskList{
		funcTask{name: "research", run: func(context.Context, string, string) envelope.TaskOutput {
			panic("index out of range")
		}},
		sleeper("competitor", 0),
	}, &countingSynth{}, WithLogger(zaptest.NewLogger(t)))

	env, err := o.Run(context.Background(), "q", "")
	require.NoError(t, err)

	assert.Equal(t, envelope.StatusFailed, env.TaskStatuses["research"])
	out, ok := env.Output("research")
	require.True(t, ok)
	assert.True(t, out.IsError())
	assert.Equal(t, "Research error: panic: index out of range", out.Text())
	assert.Equal(t, envelope.StatusCompleted, env.TaskStatuses["competitor"])
	assert.NotNil(t, env.Report)
}

func TestRunNilOutputIsFailure(t *testing.T) {
	o := New(taskList{
		funcTask{name: "financial", run: func(context.Context, string, string) envelope.TaskOutput { return nil }},
	}, &countingSynth{}, WithLogger(zaptest.NewLogger(t)))

	env, err := o.Run(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusFailed, env.TaskStatuses["financial"])
	out, _ := env.Output("financial")
	assert.Equal(t, "Financial error: "+errNilOutput.Error(), out.Text())
}

func TestInBandErrorIsCompleted(t *testing.T) {
	o := New(taskList{
		funcTask{name: "research", run: func(context.Context, string, string) envelope.TaskOutput {
			return envelope.FindingsError("Research Agent", errors.New("timeout"))
		}},
	}, &countingSynth{}, WithLogger(zaptest.NewLogger(t)))

	env, err := o.Run(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusCompleted, env.TaskStatuses["research"])
	assert.Equal(t, 1, env.Summary().InBandErrors)
}

func defaultRegistry(t *testing.T, backend llm.Backend) *tasks.Registry {
	roles, err := config.LoadRoles("")
	require.NoError(t, err)
	reg, err := tasks.BuildRegistry(roles, tools.Build(config.Default().Tools, nil), backend,
		llm.ReactConfig{MaxIterations: 3}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return reg
}

func TestFailingBackendStillYieldsFullEnvelope(t *testing.T) {
	backend := llm.BackendFunc(func(context.Context, llm.Prompt, []llm.ToolSpec) (string, error) {
		return "", errors.New("service unavailable")
	})
	o := New(defaultRegistry(t, backend), synthesis.New(backend, synthesis.Config{}, nil), WithLogger(zaptest.NewLogger(t)))

	env, err := o.Run(context.Background(), "Compare CATL and LG", "")
	require.NoError(t, err)

	for _, name := range []string{"research", "financial", "competitor"} {
		assert.Equal(t, envelope.StatusCompleted, env.TaskStatuses[name], name)
		out, ok := env.Output(name)
		require.True(t, ok, name)
		assert.True(t, out.IsError(), name)
	}
	fin, _ := env.Output("financial")
	assert.Equal(t, "Financial Agent error: service unavailable", fin.(envelope.StructuredMetrics).Analysis)

	require.NotNil(t, env.Report)
	assert.Equal(t, "Synthesis Error: service unavailable", env.Report.FullReport)
	assert.Equal(t, "Error generating summary", env.Report.ExecutiveSummary)
	assert.Empty(t, env.Report.Recommendations)
}

func TestEmptyQuery(t *testing.T) {
	var got []string
	var mu sync.Mutex
	task := func(name string) funcTask {
		return funcTask{name: name, run: func(_ context.Context, query, _ string) envelope.TaskOutput {
			mu.Lock()
			got = append(got, query)
			mu.Unlock()
			return findings("nothing to analyze")
		}}
	}
	o := New(taskList{task("a"), task("b")}, &countingSynth{})

	env, err := o.Run(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"", ""}, got)
	assert.Equal(t, "", env.Query)
	assert.NotNil(t, env.Report)
}

func TestConcurrentRunsAreIsolated(t *testing.T) {
	echo := funcTask{name: "echo", run: func(_ context.Context, query, context string) envelope.TaskOutput {
		time.Sleep(5 * time.Millisecond)
		return findings(envelope.FullQuery(query, context))
	}}
	o := New(taskList{echo}, &countingSynth{})

	var wg sync.WaitGroup
	envs := make([]*envelope.Envelope, 20)
	for i := range envs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env, err := o.Run(context.Background(), fmt.Sprintf("query-%d", i), "")
			assert.NoError(t, err)
			envs[i] = env
		}()
	}
	wg.Wait()

	ids := make(map[string]bool)
	for i, env := range envs {
		require.NotNil(t, env)
		out, _ := env.Output("echo")
		assert.Equal(t, fmt.Sprintf("query-%d", i), out.Text())
		assert.False(t, ids[env.RunID], "run IDs must be unique")
		ids[env.RunID] = true
	}
}

func TestReportSetOnce(t *testing.T) {
	synth := &countingSynth{}
	o := New(taskList{sleeper("a", 0)}, synth)

	env, err := o.Run(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), synth.calls.Load())
	assert.ErrorIs(t, env.SetReport(envelope.ReportResult{}), envelope.ErrReportAlreadySet)
	assert.Equal(t, "s", env.Report.ExecutiveSummary)
}

type recordingObserver struct {
	NopObserver
	mu     sync.Mutex
	events []string
}

func (r *recordingObserver) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingObserver) RunStarted(runID, _ string, names []string) {
	r.add(fmt.Sprintf("run.started %s %d", runID, len(names)))
}
func (r *recordingObserver) TaskStarted(_, task string) { r.add("task.started " + task) }
func (r *recordingObserver) TaskFinished(_, task string, status envelope.TaskStatus, _ envelope.TaskOutput, _ time.Duration) {
	r.add("task.finished " + task + " " + string(status))
}
func (r *recordingObserver) SynthesisFinished(string, envelope.ReportResult) { r.add("synthesis") }
func (r *recordingObserver) RunFinished(env *envelope.Envelope)              { r.add("run.finished " + env.RunID) }
func (r *recordingObserver) RunAborted(runID string, _ error)                { r.add("run.aborted " + runID) }

func TestObserverEvents(t *testing.T) {
	obs := &recordingObserver{}
	o := New(taskList{sleeper("only", 0)}, &countingSynth{},
		WithObserver(obs),
		WithIDGenerator(func() string { return "run-42" }),
	)

	env, err := o.Run(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, "run-42", env.RunID)
	assert.Equal(t, []string{
		"run.started run-42 1",
		"task.started only",
		"task.finished only completed",
		"synthesis",
		"run.finished run-42",
	}, obs.events)
}

type panickyObserver struct{ NopObserver }

func (panickyObserver) TaskFinished(string, string, envelope.TaskStatus, envelope.TaskOutput, time.Duration) {
	panic("observer bug")
}

func TestJoinAborted(t *testing.T) {
	synth := &countingSynth{}
	rec := &recordingObserver{}
	o := New(taskList{sleeper("a", 0)}, synth,
		WithObserver(panickyObserver{}),
		WithObserver(rec),
		WithIDGenerator(func() string { return "run-7" }),
		WithLogger(zaptest.NewLogger(t)),
	)

	env, err := o.Run(context.Background(), "q", "")
	assert.Nil(t, env)
	assert.ErrorIs(t, err, ErrJoinAborted)
	assert.Contains(t, err.Error(), "observer bug")
	assert.Zero(t, synth.calls.Load())
	assert.Equal(t, "run.aborted run-7", rec.events[len(rec.events)-1])
}

func TestNoTasks(t *testing.T) {
	env, err := New(taskList{}, &countingSynth{}).Run(context.Background(), "q", "ctx")
	require.NoError(t, err)
	assert.Empty(t, env.TaskStatuses)
	assert.Equal(t, "ctx", env.Context)
	assert.NotNil(t, env.Report)
}
