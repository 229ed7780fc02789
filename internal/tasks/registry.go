package tasks

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Kocoro-lab/battery-analyst/internal/config"
	"github.com/Kocoro-lab/battery-analyst/internal/llm"
	"github.com/Kocoro-lab/battery-analyst/internal/tools"
	"go.uber.org/zap"
)

var ErrDuplicateTask = errors.New("task already registered")

// Registry is the ordered set of tasks a run fans out to.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tasks map[string]Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Register adds t. Names must be unique.
func (r *Registry) Register(t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[t.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.Name())
	}
	r.tasks[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

func (r *Registry) Get(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}

// Names returns task names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Tasks returns the tasks in registration order.
func (r *Registry) Tasks() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Task, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.tasks[n])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// BuildRegistry creates one Analyst per role, all sharing backend. It fails
// on a role that names a tool not present in available.
func BuildRegistry(roles []config.Role, available map[string]tools.DataTool, backend llm.Backend, cfg llm.ReactConfig, logger *zap.Logger) (*Registry, error) {
	reg := NewRegistry()
	for _, role := range roles {
		bound := make([]llm.Tool, 0, len(role.Tools))
		for _, name := range role.Tools {
			t, ok := available[name]
			if !ok {
				return nil, fmt.Errorf("role %s: unknown tool %q", role.Name, name)
			}
			bound = append(bound, t)
		}
		if err := reg.Register(NewAnalyst(role, bound, backend, cfg, logger)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
