package experiment

import (
	"errors"
	"sync"
)

var ErrNotFound = errors.New("run not found")

// Registry keeps completed runs for the lifetime of the process.
type Registry struct {
	mu    sync.RWMutex
	order []string
	runs  map[string]*Result
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Result)}
}

func (r *Registry) Add(res *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[res.RunID]; !ok {
		r.order = append(r.order, res.RunID)
	}
	r.runs[res.RunID] = res
}

func (r *Registry) Get(runID string) (*Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return res, nil
}

// List returns runs in completion order.
func (r *Registry) List() []*Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Result, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.runs[id])
	}
	return out
}
