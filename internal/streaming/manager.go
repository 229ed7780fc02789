package streaming

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published for a run.
const (
	EventRunStarted         = "run.started"
	EventTaskStarted        = "task.started"
	EventTaskCompleted      = "task.completed"
	EventTaskFailed         = "task.failed"
	EventSynthesisCompleted = "synthesis.completed"
	EventRunCompleted       = "run.completed"
	EventRunFailed          = "run.failed"
)

// Event is a streaming event used by SSE and websocket clients.
type Event struct {
	RunID     string         `json:"run_id"`
	Type      string         `json:"type"`
	Task      string         `json:"task,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Seq       uint64         `json:"seq"`
}

// Terminal reports whether no further events follow for the run.
func (e Event) Terminal() bool {
	return e.Type == EventRunCompleted || e.Type == EventRunFailed
}

// Marshal returns JSON for event payloads in SSE or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager provides in-memory pub/sub for run events with a per-run replay
// buffer for Last-Event-ID support.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
	retention   time.Duration
	now         func() time.Time
}

const defaultCapacity = 256

// NewManager creates a manager keeping up to capacity events per run.
// Histories of finished runs are dropped after retention.
func NewManager(capacity int, retention time.Duration) *Manager {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		retention:   retention,
		now:         time.Now,
	}
}

// Subscribe adds a subscriber channel for runID; caller must drain and call Unsubscribe.
func (m *Manager) Subscribe(runID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(runID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[runID]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(m.subscribers, runID)
		}
	}
}

// Publish assigns the next sequence number and sends evt to all subscribers
// of its run. Slow subscribers miss events rather than block the run.
func (m *Manager) Publish(evt Event) Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if evt.Timestamp.IsZero() {
		evt.Timestamp = m.now()
	}
	rg := m.history[evt.RunID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[evt.RunID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)
	if evt.Terminal() {
		rg.finishedAt = evt.Timestamp
	}

	for ch := range m.subscribers[evt.RunID] {
		select {
		case ch <- evt:
		default:
		}
	}
	return evt
}

// ReplaySince returns events with Seq > since (best-effort within ring capacity).
func (m *Manager) ReplaySince(runID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[runID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Known reports whether any event has been published for runID.
func (m *Manager) Known(runID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.history[runID]
	return ok
}

// Prune drops histories of runs that finished more than retention ago and
// returns how many were removed.
func (m *Manager) Prune() int {
	if m.retention <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rg := range m.history {
		if !rg.finishedAt.IsZero() && rg.finishedAt.Before(cutoff) && len(m.subscribers[id]) == 0 {
			delete(m.history, id)
			n++
		}
	}
	return n
}

// ring is a fixed-capacity ring buffer of events
type ring struct {
	buf        []Event
	start      int
	count      int
	nextSeq    uint64
	finishedAt time.Time
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
