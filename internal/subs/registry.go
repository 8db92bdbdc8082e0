// Package subs holds the subscription state shared between the feed
// connection task and everything outside it: the registry of instrument
// keys the feed should be subscribed to, and the pending mailbox through
// which other goroutines ask for new subscriptions.
package subs

import (
	"sort"
	"sync"
)

// Registry is a thread-safe set of instrument keys the feed is interested
// in. It is read by the connection manager to build the resubscribe-all
// message after a reconnect.
type Registry struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{keys: make(map[string]struct{})}
}

// Add inserts the instrument key and reports whether it was newly added.
func (r *Registry) Add(instrumentKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[instrumentKey]; ok {
		return false
	}
	r.keys[instrumentKey] = struct{}{}
	return true
}

// Contains reports whether the key is present.
func (r *Registry) Contains(instrumentKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.keys[instrumentKey]
	return ok
}

// Snapshot returns a sorted point-in-time copy, safe to iterate while the
// registry keeps mutating.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.keys))
	for k := range r.keys {
		out = append(out, k)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}
