package orchestrator

import (
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/envelope"
)

// Observer receives run lifecycle events. Task events arrive from the task
// goroutines, so implementations must be safe for concurrent use.
type Observer interface {
	RunStarted(runID, query string, taskNames []string)
	TaskStarted(runID, task string)
	TaskFinished(runID, task string, status envelope.TaskStatus, out envelope.TaskOutput, elapsed time.Duration)
	SynthesisFinished(runID string, report envelope.ReportResult)
	RunFinished(env *envelope.Envelope)
	// RunAborted is the terminal event of a run whose join failed.
	RunAborted(runID string, err error)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) RunStarted(string, string, []string) {}
func (NopObserver) TaskStarted(string, string)          {}
func (NopObserver) TaskFinished(string, string, envelope.TaskStatus, envelope.TaskOutput, time.Duration) {
}
func (NopObserver) SynthesisFinished(string, envelope.ReportResult) {}
func (NopObserver) RunFinished(*envelope.Envelope)                  {}
func (NopObserver) RunAborted(string, error)                        {}

// MultiObserver fans events out in order.
type MultiObserver []Observer

func (m MultiObserver) RunStarted(runID, query string, taskNames []string) {
	for _, o := range m {
		o.RunStarted(runID, query, taskNames)
	}
}

func (m MultiObserver) TaskStarted(runID, task string) {
	for _, o := range m {
		o.TaskStarted(runID, task)
	}
}

func (m MultiObserver) TaskFinished(runID, task string, status envelope.TaskStatus, out envelope.TaskOutput, elapsed time.Duration) {
	for _, o := range m {
		o.TaskFinished(runID, task, status, out, elapsed)
	}
}

func (m MultiObserver) SynthesisFinished(runID string, report envelope.ReportResult) {
	for _, o := range m {
		o.SynthesisFinished(runID, report)
	}
}

func (m MultiObserver) RunFinished(env *envelope.Envelope) {
	for _, o := range m {
		o.RunFinished(env)
	}
}

func (m MultiObserver) RunAborted(runID string, err error) {
	for _, o := range m {
		o.RunAborted(runID, err)
	}
}
