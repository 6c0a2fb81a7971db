// Package inflight admits at most one investigation per alert at a time.
// Local guards a single process; Redis guards a fleet sharing one Redis.
package inflight

import (
	"context"
	"sync"
)

// Local is a process-local guard.
type Local struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewLocal returns an empty Local guard.
func NewLocal() *Local {
	return &Local{active: make(map[string]struct{})}
}

// TryAcquire claims alertID if nobody else holds it.
func (l *Local) TryAcquire(_ context.Context, alertID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[alertID]; busy {
		return nil, false, nil
	}
	l.active[alertID] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, alertID)
			l.mu.Unlock()
		})
	}
	return release, true, nil
}

// Held reports whether alertID is currently claimed.
func (l *Local) Held(alertID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.active[alertID]
	return ok
}
