package sphinx

import (
	"context"
	"sync"
	"time"

	"github.com/pior/sphinx/internal/coarsetime"
	"github.com/pior/sphinx/mux"
)

// NewChannelPool creates a channel-based engine pool. This is the default.
func NewChannelPool(constructor func(ctx context.Context) (*mux.Multiplexer, error), maxSize int32) (Pool, error) {
	return &channelPool{
		constructor: constructor,
		maxSize:     maxSize,
		idle:        make(chan *channelResource, maxSize),
		stats:       newPoolStatsCollector(),
	}, nil
}

type channelResource struct {
	engine       *mux.Multiplexer
	pool         *channelPool
	creationTime time.Time
	lastUsedTime time.Time
}

func (r *channelResource) Value() *mux.Multiplexer {
	return r.engine
}

func (r *channelResource) Release() {
	r.lastUsedTime = coarsetime.Now()
	r.pool.put(r)
}

// ReleaseUnused keeps lastUsedTime, so health checks do not reset idle time.
func (r *channelResource) ReleaseUnused() {
	r.pool.put(r)
}

func (r *channelResource) Destroy() {
	r.engine.Close()
	r.pool.remove()
}

func (r *channelResource) CreationTime() time.Time {
	return r.creationTime
}

func (r *channelResource) IdleDuration() time.Duration {
	return coarsetime.Since(r.lastUsedTime)
}

type channelPool struct {
	constructor func(ctx context.Context) (*mux.Multiplexer, error)
	maxSize     int32

	mu     sync.Mutex
	idle   chan *channelResource
	size   int32
	closed bool

	stats *poolStatsCollector
}

func (p *channelPool) Acquire(ctx context.Context) (Resource, error) {
	p.stats.recordAcquire()

	select {
	case res, ok := <-p.idle:
		if !ok {
			p.stats.recordAcquireError()
			return nil, ErrPoolClosed
		}
		p.stats.recordAcquireFromIdle()
		return res, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.stats.recordAcquireError()
		return nil, ErrPoolClosed
	}

	if p.size < p.maxSize {
		p.size++
		p.mu.Unlock()

		engine, err := p.constructor(ctx)
		if err != nil {
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			p.stats.recordAcquireError()
			return nil, err
		}

		p.stats.recordCreate()
		p.stats.recordActivate()

		now := coarsetime.Now()
		return &channelResource{
			engine:       engine,
			pool:         p,
			creationTime: now,
			lastUsedTime: now,
		}, nil
	}
	p.mu.Unlock()

	// Every engine is in use
	waitStart := time.Now()
	select {
	case res, ok := <-p.idle:
		if !ok {
			p.stats.recordAcquireError()
			return nil, ErrPoolClosed
		}
		p.stats.recordAcquireWait(time.Since(waitStart))
		p.stats.recordAcquireFromIdle()
		return res, nil
	case <-ctx.Done():
		p.stats.recordAcquireError()
		return nil, ctx.Err()
	}
}

func (p *channelPool) put(res *channelResource) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		res.engine.Close()
		p.size--
		p.stats.recordDestroy()
		p.stats.recordDeactivate()
		return
	}

	select {
	case p.idle <- res:
		p.stats.recordRelease()
	default:
		res.engine.Close()
		p.size--
		p.stats.recordDestroy()
		p.stats.recordDeactivate()
	}
}

func (p *channelPool) remove() {
	p.mu.Lock()
	p.size--
	p.mu.Unlock()
	p.stats.recordDestroy()
	p.stats.recordDeactivate()
}

func (p *channelPool) AcquireAllIdle() []Resource {
	var idle []Resource
	for {
		select {
		case res, ok := <-p.idle:
			if !ok {
				return idle
			}
			p.stats.recordAcquireFromIdle()
			idle = append(idle, res)
		default:
			return idle
		}
	}
}

func (p *channelPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true

	close(p.idle)
	for res := range p.idle {
		res.engine.Close()
		p.size--
		p.stats.recordDestroy()
		p.stats.recordIdleDestroy()
	}
}

// Stats returns a snapshot of pool statistics.
func (p *channelPool) Stats() PoolStats {
	return p.stats.snapshot()
}
