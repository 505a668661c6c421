package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kozaktomas/facegate/internal/logging"
)

// ErrModelUnavailable is returned when the model could not be loaded.
var ErrModelUnavailable = errors.New("embedding model unavailable")

// DefaultLoadTimeout bounds a single load attempt.
const DefaultLoadTimeout = 2 * time.Minute

// Status is the observable state of a Gate.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// Gate guards the one-time load of the embedding model. Concurrent callers
// share a single in-flight load; a failed load leaves the gate retryable.
type Gate struct {
	loader  Loader
	source  Source
	timeout time.Duration
	logger  *zap.Logger

	group   singleflight.Group
	loading atomic.Bool

	mu      sync.RWMutex
	model   Model
	lastErr error
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLoadTimeout overrides DefaultLoadTimeout.
func WithLoadTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the gate logger.
func WithLogger(logger *zap.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logging.OrNop(logger)
	}
}

// NewGate creates a gate that loads source through loader on first use.
func NewGate(loader Loader, source Source, opts ...GateOption) *Gate {
	g := &Gate{
		loader:  loader,
		source:  source,
		timeout: DefaultLoadTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Ready reports whether the model has been loaded.
func (g *Gate) Ready() bool {
	return g.current() != nil
}

// Status reports the gate state and the last load error, if any.
func (g *Gate) Status() (Status, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	switch {
	case g.model != nil:
		return StatusReady, nil
	case g.loading.Load():
		return StatusLoading, nil
	case g.lastErr != nil:
		return StatusFailed, g.lastErr
	default:
		return StatusIdle, nil
	}
}

// Source returns the model source this gate loads.
func (g *Gate) Source() Source {
	return g.source
}

func (g *Gate) current() Model {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.model
}

// EnsureReady returns the loaded model, loading it if necessary. Callers that
// arrive while a load is in flight wait for it. Cancelling ctx abandons the
// wait but never the shared load.
func (g *Gate) EnsureReady(ctx context.Context) (Model, error) {
	if m := g.current(); m != nil {
		return m, nil
	}

	ch := g.group.DoChan(g.source.Name, func() (any, error) {
		if m := g.current(); m != nil {
			return m, nil
		}
		return g.load(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, res.Err)
		}
		return res.Val.(Model), nil
	}
}

// Warm starts loading in the background without waiting for the result.
func (g *Gate) Warm(ctx context.Context) {
	if g.Ready() {
		return
	}
	go func() {
		_, _ = g.EnsureReady(context.WithoutCancel(ctx))
	}()
}

func (g *Gate) load(ctx context.Context) (Model, error) {
	g.loading.Store(true)
	defer g.loading.Store(false)

	logger := logging.WithOperation(g.logger, "model.load", "").With(zap.String("model", g.source.Name))
	logger.Info("loading embedding model")
	start := time.Now()

	loadCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	m, err := g.loader.LoadModels(loadCtx, g.source)
	if err == nil && m == nil {
		err = errors.New("loader returned no model")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.lastErr = err
		logger.Warn("embedding model load failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, err
	}
	g.model = m
	g.lastErr = nil
	logger.Info("embedding model ready", zap.Duration("elapsed", time.Since(start)))
	return m, nil
}
