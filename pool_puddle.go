package sphinx

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jackc/puddle/v2"

	"github.com/pior/sphinx/mux"
)

// NewPuddlePool creates an engine pool backed by puddle.
func NewPuddlePool(constructor func(ctx context.Context) (*mux.Multiplexer, error), maxSize int32) (Pool, error) {
	p := &puddlePool{}

	poolConfig := &puddle.Config[*mux.Multiplexer]{
		Constructor: func(ctx context.Context) (*mux.Multiplexer, error) {
			engine, err := constructor(ctx)
			if err == nil {
				p.createdEngines.Add(1)
			}
			return engine, err
		},
		Destructor: func(engine *mux.Multiplexer) {
			p.destroyedEngines.Add(1)
			_ = engine.Close()
		},
		MaxSize: maxSize,
	}

	pool, err := puddle.NewPool(poolConfig)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// puddlePool wraps puddle.Pool to implement Pool.
type puddlePool struct {
	pool             *puddle.Pool[*mux.Multiplexer]
	createdEngines   atomic.Int64
	destroyedEngines atomic.Int64
	acquireErrors    atomic.Int64
}

func (p *puddlePool) Acquire(ctx context.Context) (Resource, error) {
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		p.acquireErrors.Add(1)
		if errors.Is(err, puddle.ErrClosedPool) {
			return nil, ErrPoolClosed
		}
		return nil, err
	}
	return res, nil
}

func (p *puddlePool) AcquireAllIdle() []Resource {
	idle := p.pool.AcquireAllIdle()
	resources := make([]Resource, len(idle))
	for i, res := range idle {
		resources[i] = res
	}
	return resources
}

func (p *puddlePool) Close() {
	p.pool.Close()
}

// Stats maps puddle's statistics to PoolStats.
func (p *puddlePool) Stats() PoolStats {
	s := p.pool.Stat()

	return PoolStats{
		TotalEngines:      s.TotalResources(),
		IdleEngines:       s.IdleResources(),
		ActiveEngines:     s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()),
		CreatedEngines:    uint64(p.createdEngines.Load()),
		DestroyedEngines:  uint64(p.destroyedEngines.Load()),
		AcquireErrors:     uint64(p.acquireErrors.Load()),
		AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
	}
}
