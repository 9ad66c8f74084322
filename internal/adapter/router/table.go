package router

import (
	"sort"
	"sync"

	"github.com/claudette-ai/claudette/internal/adapter/breaker"
	"github.com/claudette-ai/claudette/internal/core/domain"
	"github.com/claudette-ai/claudette/internal/core/ports"
)

// entry binds an adapter to its breaker and registration order. Registration
// order is the final tie-break so selection stays deterministic.
type entry struct {
	adapter ports.BackendAdapter
	breaker *breaker.Breaker
	order   int
}

// Table is the backend registry. Registration happens during initialisation;
// reads dominate afterwards.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*entry
	next    int
}

func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Register adds a backend with a fresh breaker. Re-registering a name keeps
// the existing breaker so failure history survives config reloads.
func (t *Table) Register(adapter ports.BackendAdapter, onTransition breaker.TransitionFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()

	name := adapter.Name()
	if existing, ok := t.entries[name]; ok {
		existing.adapter = adapter
		return
	}
	t.entries[name] = &entry{
		adapter: adapter,
		breaker: breaker.New(name, onTransition),
		order:   t.next,
	}
	t.next++
}

func (t *Table) get(name string) (*entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[name]
	return e, ok
}

// Breaker exposes a backend's breaker for the status surface.
func (t *Table) Breaker(name string) (*breaker.Breaker, bool) {
	e, ok := t.get(name)
	if !ok {
		return nil, false
	}
	return e.breaker, true
}

// Names returns registered backend names in registration order.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	type named struct {
		name  string
		order int
	}
	all := make([]named, 0, len(t.entries))
	for name, e := range t.entries {
		all = append(all, named{name, e.order})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].order < all[j].order })

	names := make([]string, len(all))
	for i, n := range all {
		names[i] = n.name
	}
	return names
}

// candidates returns every enabled entry not in the exclusion set.
func (t *Table) candidates(excluded map[string]bool) []*entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*entry, 0, len(t.entries))
	for name, e := range t.entries {
		if excluded[name] {
			continue
		}
		cfg := e.adapter.Config()
		if !cfg.Enabled {
			continue
		}
		out = append(out, e)
	}
	return out
}

// BreakerStates reports every backend's breaker state.
func (t *Table) BreakerStates() map[string]domain.BreakerState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]domain.BreakerState, len(t.entries))
	for name, e := range t.entries {
		out[name] = e.breaker.State()
	}
	return out
}
