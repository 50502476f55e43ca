package backfill

import "sync"

// leaseRegistry hands out one exclusive lease per workspace, held for the
// duration of a processor run. A second acquire for the same workspace
// blocks until the first releases. This guards against two
// processors interleaving mutations even if the "at most one active task"
// uniqueness check races.
type leaseRegistry struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newLeaseRegistry() *leaseRegistry {
	return &leaseRegistry{gates: make(map[string]chan struct{})}
}

// acquire blocks until the workspace's lease is free, then takes it. The
// returned func releases it.
func (r *leaseRegistry) acquire(workspaceID string) func() {
	for {
		r.mu.Lock()
		gate, held := r.gates[workspaceID]
		if !held {
			r.gates[workspaceID] = make(chan struct{})
			r.mu.Unlock()
			break
		}
		r.mu.Unlock()
		<-gate
	}

	return func() {
		r.mu.Lock()
		if gate, ok := r.gates[workspaceID]; ok {
			delete(r.gates, workspaceID)
			close(gate)
		}
		r.mu.Unlock()
	}
}
