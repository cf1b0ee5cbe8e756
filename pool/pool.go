// Package pool implements the bounded, FIFO-fair resource pool used by the
// SQL Home and Store variants to share driver connections across workers
// (spec §4.4). A buffered channel holding idle handles doubles as the
// free-list: Go's channel semantics already guarantee FIFO delivery, so
// acquirers can never be starved by a slow handle cutting the line.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"hygge.dev/ferrors"
	"hygge.dev/logging"
)

var log = logging.New("pool")

// Factory opens and closes the resource handles a Pool manages.
type Factory interface {
	Open(ctx context.Context) (any, error)
	Close(h any) error
}

// LivenessChecker is an optional capability a Factory can also implement;
// when present, Acquire discards and replaces handles it reports as dead.
type LivenessChecker interface {
	IsAlive(h any) bool
}

// Config configures one Pool.
type Config struct {
	Name string
	// Size is the number of handles eagerly opened by Initialize.
	Size int
	// CloseGracePeriod bounds how long Close waits for outstanding
	// acquirers to return their handles before giving up.
	CloseGracePeriod time.Duration
}

// DefaultConfig returns a single-handle pool with a 30s close grace period.
func DefaultConfig() Config {
	return Config{Size: 1, CloseGracePeriod: 30 * time.Second}
}

// handle wraps a factory-produced resource with the bookkeeping needed to
// detect double-release.
type handle struct {
	id       uuid.UUID
	resource any
}

// Pool is a fixed-size collection of resource handles with status ∈
// {idle, in_use, broken}; idle+in_use+broken ≤ Size always holds.
type Pool struct {
	cfg     Config
	factory Factory
	checker LivenessChecker

	mu        sync.Mutex
	inUse     map[uuid.UUID]*handle
	closed    bool
	closeOnce sync.Once

	free chan *handle
}

// New constructs a Pool; call Initialize before Acquire.
func New(cfg Config, factory Factory) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	checker, _ := factory.(LivenessChecker)
	return &Pool{
		cfg:     cfg,
		factory: factory,
		checker: checker,
		inUse:   make(map[uuid.UUID]*handle),
		free:    make(chan *handle, cfg.Size),
	}
}

// Initialize eagerly opens Size handles, placing them on the free list.
func (p *Pool) Initialize(ctx context.Context) error {
	for i := 0; i < p.cfg.Size; i++ {
		resource, err := p.factory.Open(ctx)
		if err != nil {
			return ferrors.NewConfigError(fmt.Sprintf("pool %q: opening handle %d of %d", p.cfg.Name, i+1, p.cfg.Size), err)
		}
		p.free <- &handle{id: uuid.New(), resource: resource}
	}
	log.WithField("pool", p.cfg.Name).WithField("size", p.cfg.Size).Info("pool initialized")
	return nil
}

// Handle is an opaque acquired resource; callers type-assert Resource() to
// their concrete connection type.
type Handle struct {
	id       uuid.UUID
	resource any
}

// Resource returns the underlying factory-produced value.
func (h Handle) Resource() any { return h.resource }

// Acquire blocks until a handle is free or ctx is cancelled. A handle
// found broken (via a LivenessChecker factory) is discarded and replaced
// with a freshly opened one before being returned.
func (p *Pool) Acquire(ctx context.Context) (Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Handle{}, ferrors.NewConfigError(fmt.Sprintf("pool %q is closed", p.cfg.Name), nil)
	}
	p.mu.Unlock()

	for {
		select {
		case h := <-p.free:
			if p.checker != nil && !p.checker.IsAlive(h.resource) {
				p.replace(ctx, h)
				continue
			}
			p.mu.Lock()
			p.inUse[h.id] = h
			p.mu.Unlock()
			return Handle{id: h.id, resource: h.resource}, nil
		case <-ctx.Done():
			return Handle{}, ferrors.NewCancellationError("context cancelled while waiting to acquire a pooled handle")
		}
	}
}

func (p *Pool) replace(ctx context.Context, stale *handle) {
	_ = p.factory.Close(stale.resource)
	resource, err := p.factory.Open(ctx)
	if err != nil {
		log.WithField("pool", p.cfg.Name).WithError(err).Warn("failed to replace broken handle, pool capacity temporarily reduced")
		return
	}
	p.free <- &handle{id: uuid.New(), resource: resource}
}

// Release returns h to the idle set. Releasing a handle not currently
// tracked as in-use (already released, or acquired from a different pool)
// is a ConfigError rather than a silent no-op.
func (p *Pool) Release(h Handle) error {
	p.mu.Lock()
	tracked, ok := p.inUse[h.id]
	if ok {
		delete(p.inUse, h.id)
	}
	closed := p.closed
	p.mu.Unlock()

	if !ok {
		return ferrors.NewConfigError(fmt.Sprintf("pool %q: double release or unknown handle", p.cfg.Name), nil)
	}

	if closed {
		_ = p.factory.Close(tracked.resource)
		return nil
	}

	p.free <- tracked
	return nil
}

// WithHandle acquires a handle, runs fn, and always releases it, even if fn
// panics or returns an error. This is the scoped-acquisition helper the
// SQL Home and Store variants use instead of manual Acquire/Release pairs.
func (p *Pool) WithHandle(ctx context.Context, fn func(Handle) error) error {
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := p.Release(h); releaseErr != nil {
			log.WithField("pool", p.cfg.Name).WithError(releaseErr).Error("failed to release handle after WithHandle")
		}
	}()
	return fn(h)
}

// Close closes all idle handles and waits up to CloseGracePeriod for
// outstanding acquirers to release theirs, closing those too as they
// arrive. Idempotent.
func (p *Pool) Close() error {
	var firstErr error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		outstanding := len(p.inUse)
		p.mu.Unlock()

		deadline := time.Now().Add(p.cfg.CloseGracePeriod)
		want := p.cfg.Size - outstanding
		drained := 0
		for drained < want && time.Now().Before(deadline) {
			select {
			case h := <-p.free:
				if err := p.factory.Close(h.resource); err != nil && firstErr == nil {
					firstErr = err
				}
				drained++
			case <-time.After(10 * time.Millisecond):
			}
		}

		if outstanding == 0 {
			return
		}
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		for {
			select {
			case h := <-p.free:
				_ = p.factory.Close(h.resource)
			case <-timer.C:
				return
			}
		}
	})
	return firstErr
}
