package flow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultIdleTimeout is how long an untouched flow is kept before the janitor discards it.
const DefaultIdleTimeout = 15 * time.Minute

// Instance is what the registry needs from a flow.
type Instance interface {
	ID() string
	UpdatedAt() time.Time
	Close() error
}

// Registry keeps in-progress flows by id and expires idle ones.
type Registry[F Instance] struct {
	flows  map[string]F
	mu     sync.RWMutex
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewRegistry creates a registry that expires flows idle for longer than ttl.
func NewRegistry[F Instance](ttl time.Duration, logger *zap.Logger) *Registry[F] {
	if ttl <= 0 {
		ttl = DefaultIdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry[F]{
		flows:  make(map[string]F),
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// Add registers f.
func (r *Registry[F]) Add(f F) {
	r.mu.Lock()
	r.flows[f.ID()] = f
	r.mu.Unlock()
}

// Get retrieves a flow by id.
func (r *Registry[F]) Get(id string) (F, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flows[id]
	return f, ok
}

// Remove unregisters a flow and releases its camera.
func (r *Registry[F]) Remove(id string) bool {
	r.mu.Lock()
	f, ok := r.flows[id]
	delete(r.flows, id)
	r.mu.Unlock()

	if ok {
		r.closeFlow(f)
	}
	return ok
}

// Len returns the number of registered flows.
func (r *Registry[F]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flows)
}

// Sweep removes flows idle for longer than the ttl and returns how many were removed.
func (r *Registry[F]) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var expired []F
	for id, f := range r.flows {
		if f.UpdatedAt().Before(cutoff) {
			expired = append(expired, f)
			delete(r.flows, id)
		}
	}
	r.mu.Unlock()

	for _, f := range expired {
		r.logger.Info("expiring idle flow", zap.String("flow_id", f.ID()))
		r.closeFlow(f)
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done, then closes every remaining flow.
func (r *Registry[F]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry[F]) closeAll() {
	r.mu.Lock()
	flows := r.flows
	r.flows = make(map[string]F)
	r.mu.Unlock()

	for _, f := range flows {
		r.closeFlow(f)
	}
}

func (r *Registry[F]) closeFlow(f F) {
	if err := f.Close(); err != nil {
		r.logger.Warn("failed to close flow", zap.String("flow_id", f.ID()), zap.Error(err))
	}
}
