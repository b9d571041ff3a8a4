package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/diagnosis/luxsuv-portal/internal/flow"
	"github.com/diagnosis/luxsuv-portal/pkg/logger"
	"github.com/google/uuid"
)

var ErrFlowNotFound = errors.New("booking flow not found or expired")

// FlowFactory builds the flow for a new id. The returned release func is
// called once the flow is dropped from the registry.
type FlowFactory func(ctx context.Context, id string) (*flow.Flow, func(), error)

type entry struct {
	flow    *flow.Flow
	release func()
	seen    time.Time
}

// Registry keeps the portal's in-progress flows in memory and drops them
// after ttl without activity.
type Registry struct {
	newFlow FlowFactory
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	flows map[string]*entry
}

func NewRegistry(newFlow FlowFactory, ttl time.Duration) *Registry {
	return &Registry{
		newFlow: newFlow,
		ttl:     ttl,
		now:     time.Now,
		flows:   make(map[string]*entry),
	}
}

func (r *Registry) Create(ctx context.Context) (*flow.Flow, error) {
	id := uuid.NewString()
	f, release, err := r.newFlow(ctx, id)
	if err != nil {
		return nil, err
	}
	if release == nil {
		release = func() {}
	}

	r.mu.Lock()
	r.flows[f.ID()] = &entry{flow: f, release: release, seen: r.now()}
	r.mu.Unlock()

	logger.InfoContext(ctx, "Booking flow started", "flow_id", f.ID())
	return f, nil
}

// Get returns a live flow and marks it as seen. An idle flow is removed and
// reported as not found.
func (r *Registry) Get(id string) (*flow.Flow, error) {
	r.mu.Lock()
	e, ok := r.flows[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrFlowNotFound
	}
	now := r.now()
	if r.idle(e, now) {
		delete(r.flows, id)
		r.mu.Unlock()
		e.release()
		return nil, ErrFlowNotFound
	}
	e.seen = now
	r.mu.Unlock()
	return e.flow, nil
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.flows[id]
	delete(r.flows, id)
	r.mu.Unlock()
	if ok {
		e.release()
	}
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

// Sweep drops every idle flow and returns how many went.
func (r *Registry) Sweep() int {
	now := r.now()
	var dropped []*entry

	r.mu.Lock()
	for id, e := range r.flows {
		if r.idle(e, now) {
			delete(r.flows, id)
			dropped = append(dropped, e)
		}
	}
	r.mu.Unlock()

	for _, e := range dropped {
		e.release()
	}
	return len(dropped)
}

// Run sweeps on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				logger.Info("Expired idle booking flows", "count", n, "remaining", r.Len())
			}
		}
	}
}

// idle must be called with r.mu held.
func (r *Registry) idle(e *entry, now time.Time) bool {
	if r.ttl <= 0 {
		return false
	}
	last := e.seen
	if active := e.flow.LastActive(); active.After(last) {
		last = active
	}
	return now.Sub(last) > r.ttl
}
