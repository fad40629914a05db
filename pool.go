package sphinx

import (
	"context"
	"errors"
	"time"

	"github.com/pior/sphinx/mux"
)

// ErrPoolClosed is returned when acquiring an engine from a closed pool.
var ErrPoolClosed = errors.New("sphinx: pool closed")

// Pool holds the multiplexers ("engines") used by client calls. A call
// acquires an engine, runs its requests on it and releases it.
type Pool interface {
	// Acquire returns an idle engine, creates one, or waits until one is
	// released or ctx is done.
	Acquire(ctx context.Context) (Resource, error)

	// AcquireAllIdle returns every idle engine, for health checks.
	AcquireAllIdle() []Resource

	// Close destroys idle engines. Engines in use are destroyed when
	// released.
	Close()

	// Stats returns a snapshot of pool statistics.
	Stats() PoolStats
}

// Resource is an engine checked out of a Pool.
type Resource interface {
	Value() *mux.Multiplexer

	// Release returns the engine to the pool.
	Release()

	// ReleaseUnused returns the engine without marking it as used.
	ReleaseUnused()

	// Destroy closes the engine and removes it from the pool.
	Destroy()

	CreationTime() time.Time
	IdleDuration() time.Duration
}
