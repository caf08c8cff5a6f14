package eth

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// SubKey identifies one subscription: the owning process plus the
// caller-chosen id. The tuple is the identity; ids are only unique within
// their owner's namespace.
type SubKey struct {
	Owner string
	ID    uint64
}

func (k SubKey) String() string { return fmt.Sprintf("%s:%d", k.Owner, k.ID) }

// Handle is the cancellable side of a running relay task. Cancel closes the
// remote subscription and stops the task at its next suspension point.
type Handle struct {
	cancel context.CancelFunc
	sub    Subscription
	done   chan struct{}
}

func newHandle(cancel context.CancelFunc, sub Subscription) *Handle {
	return &Handle{cancel: cancel, sub: sub, done: make(chan struct{})}
}

func (h *Handle) Cancel() {
	h.sub.Unsubscribe()
	h.cancel()
}

// Done is closed once the relay task has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Registry tracks live relay tasks by subscription key. All methods are safe
// for concurrent use by in-flight dispatchers and by each relay's own
// termination path.
type Registry struct {
	mu   sync.RWMutex
	subs map[SubKey]*Handle
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[SubKey]*Handle)}
}

// Insert registers a handle under key. A prior entry for the same key is
// displaced last-write-wins and its task cancelled so it cannot leak.
func (r *Registry) Insert(key SubKey, h *Handle) {
	r.mu.Lock()
	prev := r.subs[key]
	r.subs[key] = h
	r.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
}

// Remove atomically detaches and returns the handle for key, or
// ErrSubscriptionNotFound if absent.
func (r *Registry) Remove(key SubKey) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.subs[key]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	delete(r.subs, key)
	return h, nil
}

// Evict removes key only while it still maps to h. Relay tasks call this on
// termination; the guard keeps a dying task from evicting a replacement
// registered under the same key.
func (r *Registry) Evict(key SubKey, h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.subs[key]; ok && cur == h {
		delete(r.subs, key)
		return true
	}
	return false
}

// Contains reports whether key is registered.
func (r *Registry) Contains(key SubKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[key]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Active returns a snapshot of registered keys in deterministic order.
func (r *Registry) Active() []SubKey {
	r.mu.RLock()
	keys := make([]SubKey, 0, len(r.subs))
	for k := range r.subs {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Owner != keys[j].Owner {
			return keys[i].Owner < keys[j].Owner
		}
		return keys[i].ID < keys[j].ID
	})
	return keys
}
