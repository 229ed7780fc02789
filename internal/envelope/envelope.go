// Package envelope holds the per-run record shared between the fan-out step
// and the synthesis step.
package envelope

import (
	"errors"
	"time"
)

// TaskStatus is the lifecycle state of one task within a run.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// IsTerminal reports whether the task has finished, successfully or not.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrReportAlreadySet is returned when a run's report is written twice.
var ErrReportAlreadySet = errors.New("report already set")

// ReportResult is the output of the synthesis step.
type ReportResult struct {
	ExecutiveSummary string   `json:"executive_summary"`
	FullReport       string   `json:"full_report"`
	Recommendations  []string `json:"recommendations"`
}

// Envelope accumulates everything produced during one orchestration run.
// It is owned by a single run and is not safe for concurrent mutation; the
// orchestrator only writes to it after all tasks have joined.
type Envelope struct {
	RunID        string                `json:"run_id"`
	Query        string                `json:"query"`
	Context      string                `json:"context"`
	TaskOutputs  map[string]TaskOutput `json:"task_outputs"`
	TaskStatuses map[string]TaskStatus `json:"task_statuses"`
	Report       *ReportResult         `json:"report,omitempty"`
	StartedAt    time.Time             `json:"started_at"`
	CompletedAt  time.Time             `json:"completed_at,omitempty"`
}

// New creates an envelope with every named task pending.
func New(runID, query, context string, taskNames []string) *Envelope {
	statuses := make(map[string]TaskStatus, len(taskNames))
	for _, name := range taskNames {
		statuses[name] = StatusPending
	}
	return &Envelope{
		RunID:        runID,
		Query:        query,
		Context:      context,
		TaskOutputs:  make(map[string]TaskOutput, len(taskNames)),
		TaskStatuses: statuses,
		StartedAt:    time.Now(),
	}
}

// FullQuery returns the query with the optional context appended.
func (e *Envelope) FullQuery() string {
	return FullQuery(e.Query, e.Context)
}

// FullQuery joins a query and its optional context the way every task sees it.
func FullQuery(query, context string) string {
	if context == "" {
		return query
	}
	return query + "\n\nContext: " + context
}

// Record stores a task's output and final status.
func (e *Envelope) Record(name string, out TaskOutput, status TaskStatus) {
	e.TaskOutputs[name] = out
	e.TaskStatuses[name] = status
}

// SetReport attaches the synthesized report. It can only succeed once.
func (e *Envelope) SetReport(r ReportResult) error {
	if e.Report != nil {
		return ErrReportAlreadySet
	}
	if r.Recommendations == nil {
		r.Recommendations = []string{}
	}
	e.Report = &r
	return nil
}

// Output returns the output recorded for the named task, if any.
func (e *Envelope) Output(name string) (TaskOutput, bool) {
	out, ok := e.TaskOutputs[name]
	return out, ok && out != nil
}

// AllTerminal reports whether every task has reached a terminal status.
func (e *Envelope) AllTerminal() bool {
	for _, s := range e.TaskStatuses {
		if !s.IsTerminal() {
			return false
		}
	}
	return true
}

// Summary counts tasks by outcome.
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	// InBandErrors counts completed tasks whose output encodes an error.
	InBandErrors int `json:"in_band_errors"`
}

func (e *Envelope) Summary() Summary {
	s := Summary{Total: len(e.TaskStatuses)}
	for name, status := range e.TaskStatuses {
		switch status {
		case StatusCompleted:
			s.Completed++
			if out, ok := e.Output(name); ok && out.IsError() {
				s.InBandErrors++
			}
		case StatusFailed:
			s.Failed++
		default:
			s.Pending++
		}
	}
	return s
}
