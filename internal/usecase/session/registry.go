package session

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Registry holds one Manager per identity.
type Registry struct {
	deps Deps

	mu       sync.Mutex
	managers map[string]*Manager

	refresh singleflight.Group
}

// NewRegistry creates an empty Registry.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:     deps,
		managers: make(map[string]*Manager),
	}
}

// Manager returns the identity's Manager, creating an idle one if needed.
func (r *Registry) Manager(ownerID string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.managers[ownerID]
	if !ok {
		m = NewManager(ownerID, r.deps)
		r.managers[ownerID] = m
	}
	return m
}

// Refresh reloads the identity's sessions. Concurrent refreshes of the same
// identity share a single reload. The shared reload is not tied to any one
// caller's cancellation; each caller stops waiting when its own ctx ends.
func (r *Registry) Refresh(ctx context.Context, ownerID string) (View, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := r.refresh.DoChan(ownerID, func() (any, error) {
		m := r.Manager(ownerID)
		if err := m.Reload(flightCtx); err != nil {
			return nil, err
		}
		return m.View(), nil
	})

	select {
	case <-ctx.Done():
		return View{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return View{}, res.Err
		}
		if res.Shared && r.deps.Logger != nil {
			r.deps.Logger.DebugContext(ctx, "refresh_shared", "identity", ownerID)
		}
		return res.Val.(View), nil
	}
}

// SignIn loads the identity's sessions.
func (r *Registry) SignIn(ctx context.Context, ownerID string) (View, error) {
	return r.Refresh(ctx, ownerID)
}

// SignOut purges the identity's state and forgets its Manager.
func (r *Registry) SignOut(ctx context.Context, ownerID string) error {
	r.mu.Lock()
	m, ok := r.managers[ownerID]
	delete(r.managers, ownerID)
	r.mu.Unlock()

	if !ok {
		m = NewManager(ownerID, r.deps)
	}
	return m.SignOut(ctx)
}

// Len returns the number of live managers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}
