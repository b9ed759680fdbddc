package gateway

import (
	"sort"
	"sync"
)

// Registry maps tenants to their live handle and pending QR challenge.
// Every mutation for a tenant wakes the callers waiting on Changed for
// that tenant.
type Registry struct {
	mu         sync.RWMutex
	handles    map[string]*Handle
	challenges map[string]string
	watchers   map[string]chan struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handles:    make(map[string]*Handle),
		challenges: make(map[string]string),
		watchers:   make(map[string]chan struct{}),
	}
}

// Get returns the handle of tenantID.
func (r *Registry) Get(tenantID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[tenantID]
	return h, ok
}

// Put stores h, replacing any handle of the same tenant. Callers close
// the replaced handle first.
func (r *Registry) Put(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[h.TenantID] = h
	r.notifyLocked(h.TenantID)
}

// Remove deletes the handle of tenantID and returns it.
func (r *Registry) Remove(tenantID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[tenantID]
	if ok {
		delete(r.handles, tenantID)
		r.notifyLocked(tenantID)
	}
	return h, ok
}

// Handles returns every live handle ordered by tenant id.
func (r *Registry) Handles() []*Handle {
	r.mu.RLock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Challenge returns the pending challenge of tenantID.
func (r *Registry) Challenge(tenantID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	qr, ok := r.challenges[tenantID]
	return qr, ok
}

// Challenges returns a copy of every pending challenge.
func (r *Registry) Challenges() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.challenges))
	for k, v := range r.challenges {
		out[k] = v
	}
	return out
}

// SetChallenge stores the rendered challenge of tenantID.
func (r *Registry) SetChallenge(tenantID, qr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.challenges[tenantID] = qr
	r.notifyLocked(tenantID)
}

// ClearChallenge drops the pending challenge of tenantID.
func (r *Registry) ClearChallenge(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.challenges[tenantID]; ok {
		delete(r.challenges, tenantID)
		r.notifyLocked(tenantID)
	}
}

// Changed returns a channel closed by the next mutation of tenantID's
// entries, including Notify.
func (r *Registry) Changed(tenantID string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.watchers[tenantID]
	if !ok {
		ch = make(chan struct{})
		r.watchers[tenantID] = ch
	}
	return ch
}

// Notify wakes the waiters of tenantID after a handle changed in place.
func (r *Registry) Notify(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifyLocked(tenantID)
}

func (r *Registry) notifyLocked(tenantID string) {
	if ch, ok := r.watchers[tenantID]; ok {
		close(ch)
		delete(r.watchers, tenantID)
	}
}
