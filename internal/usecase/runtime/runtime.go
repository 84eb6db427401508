// Package runtime owns the lifecycle of the agent execution environment:
// lazy start, tracked background work and orderly shutdown.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"agntschat/internal/domain"
)

// Environment is the started execution environment shared by all runs.
type Environment struct {
	Backend domain.AgentBackend
	// Close releases the environment. May be nil.
	Close func() error
}

// EnvironmentFactory builds the environment on first use.
type EnvironmentFactory func(ctx context.Context) (*Environment, error)

// Runtime lazily starts a single Environment and tracks work running on it.
type Runtime struct {
	factory EnvironmentFactory
	logger  *slog.Logger

	mu     sync.Mutex // serializes start and stop
	handle atomic.Pointer[Handle]
}

// New creates a runtime that starts its environment with factory.
func New(factory EnvironmentFactory, logger *slog.Logger) *Runtime {
	return &Runtime{factory: factory, logger: logger}
}

// EnsureStarted starts the environment if needed and returns the shared
// handle. Concurrent callers observe the same handle; the factory runs once
// per successful start. A stopped runtime can be started again.
func (r *Runtime) EnsureStarted(ctx context.Context) (*Handle, error) {
	if h := r.handle.Load(); h != nil {
		return h, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h := r.handle.Load(); h != nil {
		return h, nil
	}
	env, err := r.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("start agent runtime: %w", err)
	}
	if env == nil || env.Backend == nil {
		return nil, fmt.Errorf("start agent runtime: %w: factory returned no backend", domain.ErrBackend)
	}
	h := &Handle{env: env}
	r.handle.Store(h)
	r.logger.Info("agent runtime started")
	return h, nil
}

// Running reports whether the environment is currently started.
func (r *Runtime) Running() bool {
	return r.handle.Load() != nil
}

// DrainUntilIdle waits for all work tracked on the current handle. It returns
// immediately when the runtime is not started.
func (r *Runtime) DrainUntilIdle(ctx context.Context) error {
	h := r.handle.Load()
	if h == nil {
		return nil
	}
	return h.drain(ctx)
}

// Stop refuses new work, waits for in-flight work and closes the
// environment. Stop is idempotent and a no-op when not started.
//
// The handle is released even when ctx ends before the work drains: the
// runtime can be started again right away, and the old environment is
// closed once its remaining work returns.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.handle.Swap(nil)
	if h == nil {
		return nil
	}
	h.markStopping()
	if err := h.drain(ctx); err != nil {
		r.logger.Warn("agent runtime stopped with work in flight", "error", err)
		go func() {
			h.wg.Wait()
			r.closeEnv(h)
		}()
		return fmt.Errorf("stop agent runtime: %w", err)
	}
	if err := r.closeEnv(h); err != nil {
		return err
	}
	r.logger.Info("agent runtime stopped")
	return nil
}

func (r *Runtime) closeEnv(h *Handle) error {
	if h.env.Close == nil {
		return nil
	}
	if err := h.env.Close(); err != nil {
		r.logger.Warn("close agent runtime failed", "error", err)
		return fmt.Errorf("close agent runtime: %w", err)
	}
	return nil
}

// Handle is the started runtime as seen by a run.
type Handle struct {
	env *Environment

	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

// Backend returns the agent backend of the environment.
func (h *Handle) Backend() domain.AgentBackend { return h.env.Backend }

// Go runs fn as tracked work. It fails with domain.ErrRuntimeStopped once
// the runtime is stopping.
func (h *Handle) Go(fn func()) error {
	if err := h.track(); err != nil {
		return err
	}
	go func() {
		defer h.wg.Done()
		fn()
	}()
	return nil
}

// Group returns a work group for one run. Its work is tracked by the handle
// as well, so Stop still waits for it, but Wait only waits for the group.
func (h *Handle) Group() *Group {
	return &Group{h: h}
}

func (h *Handle) track() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopping {
		return domain.ErrRuntimeStopped
	}
	h.wg.Add(1)
	return nil
}

func (h *Handle) markStopping() {
	h.mu.Lock()
	h.stopping = true
	h.mu.Unlock()
}

func (h *Handle) drain(ctx context.Context) error {
	return waitCtx(ctx, &h.wg)
}

// Group is the work of a single run on a handle.
type Group struct {
	h  *Handle
	wg sync.WaitGroup
}

// Backend returns the agent backend of the environment.
func (g *Group) Backend() domain.AgentBackend { return g.h.Backend() }

// Go runs fn as tracked work of the group. It fails with
// domain.ErrRuntimeStopped once the runtime is stopping.
func (g *Group) Go(fn func()) error {
	if err := g.h.track(); err != nil {
		return err
	}
	g.wg.Add(1)
	go func() {
		defer g.h.wg.Done()
		defer g.wg.Done()
		fn()
	}()
	return nil
}

// Wait blocks until the group's work has returned or ctx ends.
func (g *Group) Wait(ctx context.Context) error {
	return waitCtx(ctx, &g.wg)
}

func waitCtx(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
