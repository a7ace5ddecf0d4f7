package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"proctorsfu/internal/core/domain"
	"proctorsfu/internal/core/ports"
	"proctorsfu/internal/infrastructure/engine/enginetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, strategy SelectionStrategy, size int) (*enginetest.Engine, *WorkerPool) {
	t.Helper()

	engine := enginetest.New()
	pool := NewWorkerPool(engine, ports.WorkerSettings{
		RtcMinPort: 40000,
		RtcMaxPort: 49999,
		ListenIP:   "127.0.0.1",
	}, strategy, testLogger())

	if size > 0 {
		require.NoError(t, pool.Initialize(context.Background(), size))
	}
	return engine, pool
}

func TestWorkerPool_Initialize(t *testing.T) {
	engine, pool := newTestPool(t, StrategyRoundRobin, 3)

	assert.Equal(t, 3, pool.Size())
	assert.Equal(t, 3, engine.Spawned())

	infos := pool.Workers()
	require.Len(t, infos, 3)
	for _, info := range infos {
		assert.Zero(t, info.RouterCount)
		assert.False(t, info.CreatedAt.IsZero())
	}
}

func TestWorkerPool_InitializeRejectsBadSize(t *testing.T) {
	_, pool := newTestPool(t, StrategyRoundRobin, 0)

	assert.Error(t, pool.Initialize(context.Background(), 0))
	assert.Error(t, pool.Initialize(context.Background(), -1))
}

func TestWorkerPool_InitializeFailsFast(t *testing.T) {
	engine := enginetest.New()
	engine.FailNext(1)
	pool := NewWorkerPool(engine, ports.WorkerSettings{}, StrategyRoundRobin, testLogger())

	err := pool.Initialize(context.Background(), 4)
	require.ErrorIs(t, err, enginetest.ErrSpawnRefused)
	assert.Equal(t, 0, pool.Size())
}

func TestWorkerPool_NextEmptyPool(t *testing.T) {
	_, pool := newTestPool(t, StrategyRoundRobin, 0)

	_, err := pool.Next()
	assert.ErrorIs(t, err, domain.ErrNoWorkersAvailable)
}

func TestWorkerPool_NextRoundRobin(t *testing.T) {
	_, pool := newTestPool(t, StrategyRoundRobin, 3)

	var pids []int
	for i := 0; i < 6; i++ {
		w, err := pool.Next()
		require.NoError(t, err)
		pids = append(pids, w.PID())
	}
	assert.Equal(t, []int{1, 2, 3, 1, 2, 3}, pids)
}

func TestWorkerPool_NextLeastLoaded(t *testing.T) {
	_, pool := newTestPool(t, StrategyLeastLoaded, 3)

	pool.RouterBound(1)
	pool.RouterBound(1)
	pool.RouterBound(2)

	w, err := pool.Next()
	require.NoError(t, err)
	assert.Equal(t, 3, w.PID())

	pool.RouterBound(3)
	pool.RouterBound(3)
	pool.RouterUnbound(2)

	w, err = pool.Next()
	require.NoError(t, err)
	assert.Equal(t, 2, w.PID())
}

func TestWorkerPool_RouterUnboundNeverGoesNegative(t *testing.T) {
	_, pool := newTestPool(t, StrategyRoundRobin, 1)

	pool.RouterUnbound(1)
	pool.RouterUnbound(1)

	infos := pool.Workers()
	require.Len(t, infos, 1)
	assert.Zero(t, infos[0].RouterCount)
}

func TestWorkerPool_WorkerDeathRemovalAndRespawn(t *testing.T) {
	engine, pool := newTestPool(t, StrategyRoundRobin, 2)

	var mu sync.Mutex
	var deadPIDs []int
	pool.OnWorkerDied(func(pid int) {
		mu.Lock()
		deadPIDs = append(deadPIDs, pid)
		mu.Unlock()
	})

	engine.Workers()[0].Die(errors.New("segfault"))

	mu.Lock()
	assert.Equal(t, []int{1}, deadPIDs)
	mu.Unlock()

	// The replacement is spawned asynchronously.
	require.Eventually(t, func() bool {
		return pool.Size() == 2
	}, 3*time.Second, 10*time.Millisecond)

	var pids []int
	for _, info := range pool.Workers() {
		pids = append(pids, info.PID)
	}
	assert.NotContains(t, pids, 1)
	assert.Contains(t, pids, 3)
}

func TestWorkerPool_DeathResetsCursor(t *testing.T) {
	engine, pool := newTestPool(t, StrategyRoundRobin, 2)

	w, err := pool.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, w.PID())

	// Cursor now points at the second worker; kill it.
	engine.Workers()[1].Die(errors.New("killed"))

	w, err = pool.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, w.PID())
}

func TestWorkerPool_DeathOfUnknownWorkerIsIgnored(t *testing.T) {
	engine, pool := newTestPool(t, StrategyRoundRobin, 1)

	pool.Shutdown()
	require.Equal(t, 0, pool.Size())

	// Death racing with shutdown must not panic or resurrect the pool
	// beyond the single replacement spawn.
	engine.Workers()[0].Die(errors.New("late death"))
	assert.Equal(t, 0, pool.Size())
}

func TestWorkerPool_Shutdown(t *testing.T) {
	engine, pool := newTestPool(t, StrategyRoundRobin, 3)

	pool.Shutdown()

	assert.Equal(t, 0, pool.Size())
	for _, w := range engine.Workers() {
		assert.True(t, w.Closed())
	}

	_, err := pool.Next()
	assert.Error(t, err)
}
