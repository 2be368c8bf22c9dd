package transport

import (
	"sync"
)

// Registry is the process-wide accessor for the one live Manager. The
// composition root owns it and injects it into collaborators; callers that
// merely want "the" connection call Get and always receive the same
// instance rather than an error.
type Registry struct {
	factory func() (*Manager, error)

	mu  sync.Mutex
	mgr *Manager
}

// NewRegistry wraps a manager factory. The factory runs at most once per
// registry lifetime (until Swap/Reset).
func NewRegistry(factory func() (*Manager, error)) *Registry {
	return &Registry{factory: factory}
}

// Get returns the registered manager, constructing it on first use.
// Repeated calls return the same instance.
func (r *Registry) Get() (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mgr != nil {
		return r.mgr, nil
	}
	mgr, err := r.factory()
	if err != nil {
		return nil, err
	}
	r.mgr = mgr
	return r.mgr, nil
}

// Swap replaces the live manager, closing the old one. Tests use it to
// install fakes; production code has no reason to call it.
func (r *Registry) Swap(mgr *Manager) *Manager {
	r.mu.Lock()
	old := r.mgr
	r.mgr = mgr
	r.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return old
}

// Reset drops the current manager so the next Get constructs a fresh one.
func (r *Registry) Reset() {
	r.Swap(nil)
}
