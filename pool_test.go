package sphinx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/sphinx/mux"
)

func newEngine(ctx context.Context) (*mux.Multiplexer, error) {
	return mux.New(mux.Config{Host: "127.0.0.1", Port: DefaultPort}), nil
}

var poolFactories = map[string]func(func(ctx context.Context) (*mux.Multiplexer, error), int32) (Pool, error){
	"channel": NewChannelPool,
	"puddle":  NewPuddlePool,
}

func TestPool_AcquireRelease(t *testing.T) {
	for name, factory := range poolFactories {
		t.Run(name, func(t *testing.T) {
			pool, err := factory(newEngine, 2)
			require.NoError(t, err)
			defer pool.Close()

			ctx := context.Background()

			res, err := pool.Acquire(ctx)
			require.NoError(t, err)
			require.NotNil(t, res.Value())

			stats := pool.Stats()
			assert.Equal(t, int32(1), stats.TotalEngines)
			assert.Equal(t, int32(1), stats.ActiveEngines)
			assert.Equal(t, uint64(1), stats.CreatedEngines)

			engine := res.Value()
			res.Release()

			stats = pool.Stats()
			assert.Equal(t, int32(1), stats.IdleEngines)
			assert.Zero(t, stats.ActiveEngines)

			res, err = pool.Acquire(ctx)
			require.NoError(t, err)
			assert.Same(t, engine, res.Value())
			res.Release()

			stats = pool.Stats()
			assert.Equal(t, uint64(2), stats.AcquireCount)
			assert.Equal(t, uint64(1), stats.CreatedEngines)
		})
	}
}

func TestPool_Destroy(t *testing.T) {
	for name, factory := range poolFactories {
		t.Run(name, func(t *testing.T) {
			pool, err := factory(newEngine, 2)
			require.NoError(t, err)
			defer pool.Close()

			res, err := pool.Acquire(context.Background())
			require.NoError(t, err)
			res.Destroy()

			assert.Eventually(t, func() bool {
				stats := pool.Stats()
				return stats.DestroyedEngines == 1 && stats.TotalEngines == 0
			}, time.Second, time.Millisecond)
		})
	}
}

func TestPool_WaitsWhenFull(t *testing.T) {
	for name, factory := range poolFactories {
		t.Run(name, func(t *testing.T) {
			pool, err := factory(newEngine, 1)
			require.NoError(t, err)
			defer pool.Close()

			res, err := pool.Acquire(context.Background())
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err = pool.Acquire(ctx)
			require.ErrorIs(t, err, context.DeadlineExceeded)

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				time.Sleep(10 * time.Millisecond)
				res.Release()
			}()

			res2, err := pool.Acquire(context.Background())
			require.NoError(t, err)
			res2.Release()
			wg.Wait()

			assert.Equal(t, uint64(1), pool.Stats().CreatedEngines)
			assert.GreaterOrEqual(t, pool.Stats().AcquireErrors, uint64(1))
		})
	}
}

func TestPool_ConstructorError(t *testing.T) {
	boom := errors.New("boom")
	for name, factory := range poolFactories {
		t.Run(name, func(t *testing.T) {
			pool, err := factory(func(ctx context.Context) (*mux.Multiplexer, error) {
				return nil, boom
			}, 1)
			require.NoError(t, err)
			defer pool.Close()

			_, err = pool.Acquire(context.Background())
			require.ErrorIs(t, err, boom)

			stats := pool.Stats()
			assert.Zero(t, stats.TotalEngines)
			assert.Equal(t, uint64(1), stats.AcquireErrors)
		})
	}
}

func TestPool_Closed(t *testing.T) {
	for name, factory := range poolFactories {
		t.Run(name, func(t *testing.T) {
			pool, err := factory(newEngine, 2)
			require.NoError(t, err)

			res, err := pool.Acquire(context.Background())
			require.NoError(t, err)
			res.Release()

			pool.Close()

			_, err = pool.Acquire(context.Background())
			require.ErrorIs(t, err, ErrPoolClosed)
		})
	}
}

func TestChannelPool_ReleaseAfterClose(t *testing.T) {
	pool, err := NewChannelPool(newEngine, 2)
	require.NoError(t, err)

	res, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	pool.Close()
	res.Release()

	stats := pool.Stats()
	assert.Zero(t, stats.TotalEngines)
	assert.Zero(t, stats.ActiveEngines)
	assert.Equal(t, uint64(1), stats.DestroyedEngines)
}

func TestChannelPool_AcquireAllIdle(t *testing.T) {
	pool, err := NewChannelPool(newEngine, 3)
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()
	var held []Resource
	for range 3 {
		res, err := pool.Acquire(ctx)
		require.NoError(t, err)
		held = append(held, res)
	}
	for _, res := range held {
		res.Release()
	}

	idle := pool.AcquireAllIdle()
	require.Len(t, idle, 3)
	assert.Zero(t, pool.Stats().IdleEngines)

	idle[0].Destroy()
	idle[1].ReleaseUnused()
	idle[2].ReleaseUnused()

	stats := pool.Stats()
	assert.Equal(t, int32(2), stats.TotalEngines)
	assert.Equal(t, int32(2), stats.IdleEngines)
	assert.Zero(t, stats.ActiveEngines)
}

func TestChannelPool_IdleDuration(t *testing.T) {
	pool, err := NewChannelPool(newEngine, 1)
	require.NoError(t, err)
	defer pool.Close()

	res, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	res.Release()

	time.Sleep(200 * time.Millisecond)

	idle := pool.AcquireAllIdle()
	require.Len(t, idle, 1)
	assert.GreaterOrEqual(t, idle[0].IdleDuration(), 100*time.Millisecond)
	assert.False(t, idle[0].CreationTime().IsZero())

	// ReleaseUnused keeps the idle time running.
	idle[0].ReleaseUnused()
	idle = pool.AcquireAllIdle()
	require.Len(t, idle, 1)
	assert.GreaterOrEqual(t, idle[0].IdleDuration(), 100*time.Millisecond)
	idle[0].ReleaseUnused()
}
