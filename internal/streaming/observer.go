package streaming

import (
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/envelope"
	"github.com/Kocoro-lab/battery-analyst/internal/orchestrator"
)

// Observer publishes orchestrator lifecycle events to a Manager.
type Observer struct {
	mgr *Manager
}

var _ orchestrator.Observer = (*Observer)(nil)

func NewObserver(mgr *Manager) *Observer { return &Observer{mgr: mgr} }

func (o *Observer) RunStarted(runID, query string, taskNames []string) {
	o.mgr.Publish(Event{
		RunID:   runID,
		Type:    EventRunStarted,
		Message: query,
		Data:    map[string]any{"tasks": taskNames},
	})
}

func (o *Observer) TaskStarted(runID, task string) {
	o.mgr.Publish(Event{RunID: runID, Type: EventTaskStarted, Task: task})
}

func (o *Observer) TaskFinished(runID, task string, status envelope.TaskStatus, out envelope.TaskOutput, elapsed time.Duration) {
	typ := EventTaskCompleted
	if status == envelope.StatusFailed {
		typ = EventTaskFailed
	}
	evt := Event{
		RunID: runID,
		Type:  typ,
		Task:  task,
		Data: map[string]any{
			"status":      string(status),
			"duration_ms": elapsed.Milliseconds(),
		},
	}
	if out != nil {
		evt.Data["error"] = out.IsError()
		evt.Data["output"] = out
	}
	o.mgr.Publish(evt)
}

func (o *Observer) SynthesisFinished(runID string, report envelope.ReportResult) {
	o.mgr.Publish(Event{
		RunID:   runID,
		Type:    EventSynthesisCompleted,
		Message: report.ExecutiveSummary,
		Data:    map[string]any{"recommendations": report.Recommendations},
	})
}

func (o *Observer) RunFinished(env *envelope.Envelope) {
	o.mgr.Publish(Event{
		RunID: env.RunID,
		Type:  EventRunCompleted,
		Data:  map[string]any{"summary": env.Summary()},
	})
}

func (o *Observer) RunAborted(runID string, err error) {
	o.mgr.Publish(Event{RunID: runID, Type: EventRunFailed, Message: err.Error()})
}
