// Package registry holds the per-process catalogue of task definitions.
//
// This map is process-local bookkeeping only; the durable lease row is the
// cross-process truth. Populated once at startup, read-only afterward.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrDuplicateTask means two registrations used the same id. This is a
	// startup misconfiguration, fatal by the time it surfaces.
	ErrDuplicateTask = errors.New("duplicate task id")

	ErrTaskNotFound = errors.New("task not found")
)

// Body is the executable unit of work behind a task id. It returns an opaque
// result string (empty is fine) recorded into the lease row on success.
type Body func(ctx context.Context) (string, error)

// TaskDefinition describes one recurring task. Immutable after Register.
type TaskDefinition struct {
	// ID is unique within the registry and doubles as the global lock key.
	ID string

	// Schedule is opaque to the engine; the trigger consumes it.
	Schedule string

	// Timeout bounds one execution. Zero falls back to the engine default.
	Timeout time.Duration

	// Enabled seeds the lease row's operator flag on first encounter.
	Enabled bool

	Body Body
}

type Registry struct {
	mu   sync.RWMutex
	defs map[string]TaskDefinition
}

func New() *Registry {
	return &Registry{defs: map[string]TaskDefinition{}}
}

func (r *Registry) Register(def TaskDefinition) error {
	id := strings.TrimSpace(def.ID)
	if id == "" {
		return errors.New("task id required")
	}
	if def.Body == nil {
		return fmt.Errorf("task %q: body required", id)
	}
	def.ID = id

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTask, id)
	}
	r.defs[id] = def
	return nil
}

func (r *Registry) Get(id string) (TaskDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[strings.TrimSpace(id)]
	if !ok {
		return TaskDefinition{}, fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	return def, nil
}

// All returns definitions sorted by id, for deterministic startup wiring.
func (r *Registry) All() []TaskDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TaskDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
