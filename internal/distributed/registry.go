package distributed

import (
	"sort"
	"sync"
	"time"
)

// ConnectedWorker is the master's record of a registered worker.
type ConnectedWorker struct {
	ID           string       `json:"id"`
	Capabilities Capabilities `json:"capabilities"`
	Status       Status       `json:"status"`
	RemoteAddr   string       `json:"remote_addr"`
	ConnectedAt  time.Time    `json:"connected_at"`
	LastSeen     time.Time    `json:"last_seen"`

	conn *Conn
}

// Registry maps worker ids to live connections. There is at most one entry
// per id; registering an id again replaces the entry.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*ConnectedWorker
	changed chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]*ConnectedWorker),
		changed: make(chan struct{}),
	}
}

// notify wakes Changed waiters. Callers hold mu.
func (r *Registry) notify() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// Changed returns a channel closed on the next registration or removal.
func (r *Registry) Changed() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.changed
}

// Register inserts w and returns the entry it replaced, if any.
func (r *Registry) Register(w *ConnectedWorker) *ConnectedWorker {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.workers[w.ID]
	r.workers[w.ID] = w
	r.notify()
	return old
}

// Remove deletes the entry for id only if it is still w, so a replaced
// connection cannot remove its successor.
func (r *Registry) Remove(id string, w *ConnectedWorker) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.workers[id]; !ok || cur != w {
		return false
	}
	delete(r.workers, id)
	r.notify()
	return true
}

// UpdateStatus records a heartbeat for w.
func (r *Registry) UpdateStatus(w *ConnectedWorker, st Status, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.workers[w.ID]; !ok || cur != w {
		return false
	}
	w.Status = st
	w.LastSeen = at
	return true
}

// Get returns a copy of the entry for id.
func (r *Registry) Get(id string) (ConnectedWorker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	if !ok {
		return ConnectedWorker{}, false
	}
	return *w, true
}

func (r *Registry) lookup(id string) (*ConnectedWorker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	return w, ok
}

// List returns copies of all entries ordered by id.
func (r *Registry) List() []ConnectedWorker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnectedWorker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}
