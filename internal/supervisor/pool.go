package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/LuaWard/internal/engine"
)

var (
	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrAcquireTimeout is returned when no worker frees up in time.
	ErrAcquireTimeout = errors.New("worker acquisition timeout")
)

// acquireTimeout bounds how long Acquire waits for a free worker.
const acquireTimeout = 5 * time.Second

// Pool runs a fixed set of isolation workers. Scripts run in parallel
// only across workers; each worker still runs one script at a time.
// Scripts share no state: every Execute may land on a different worker
// with its own engine lifetime.
type Pool struct {
	cfg     Config
	workers chan *Engine
	size    int
	mu      sync.RWMutex
	closed  bool
}

// NewPool starts size workers up front. On any startup failure the
// already-started workers are torn down.
func NewPool(cfg Config, size int) (*Pool, error) {
	if size <= 0 {
		size = 4
	}

	pool := &Pool{
		cfg:     cfg,
		workers: make(chan *Engine, size),
		size:    size,
	}

	for i := 0; i < size; i++ {
		eng, err := Start(cfg)
		if err != nil {
			pool.Close()
			return nil, err
		}
		pool.workers <- eng
	}
	return pool, nil
}

// Acquire checks a worker out of the pool.
func (p *Pool) Acquire(ctx context.Context) (*Engine, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	select {
	case eng := <-p.workers:
		return eng, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(acquireTimeout):
		return nil, ErrAcquireTimeout
	}
}

// Release returns a worker to the pool. A dead worker is replaced with a
// fresh one so the pool never shrinks below its size.
func (p *Pool) Release(eng *Engine) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return eng.Close()
	}

	if !eng.Alive() {
		_ = eng.Close()
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.WorkerRestarts.Inc()
		}
		replacement, err := Start(p.cfg)
		if err != nil {
			return err
		}
		p.workers <- replacement
		return nil
	}

	select {
	case p.workers <- eng:
		return nil
	default:
		return eng.Close()
	}
}

// Execute runs a script on any free worker.
func (p *Pool) Execute(ctx context.Context, script string) error {
	eng, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	execErr := eng.Execute(script)
	if relErr := p.Release(eng); relErr != nil && execErr == nil {
		execErr = relErr
	}
	return execErr
}

// Call invokes a guest function on any free worker.
func (p *Pool) Call(ctx context.Context, name string, args ...interface{}) (engine.Value, error) {
	eng, err := p.Acquire(ctx)
	if err != nil {
		return engine.Nothing(), err
	}
	val, callErr := eng.Call(name, args...)
	if relErr := p.Release(eng); relErr != nil && callErr == nil {
		callErr = relErr
	}
	return val, callErr
}

// Close shuts down every worker. Idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.workers)
	for eng := range p.workers {
		_ = eng.Close()
	}
	return nil
}
