package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"proctorsfu/internal/core/domain"
	"proctorsfu/internal/core/ports"
	"proctorsfu/internal/infrastructure/engine/enginetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterRegistry_GetOrCreate(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	router, err := stack.routers.GetOrCreate(context.Background(), "room-1")
	require.NoError(t, err)
	require.NotNil(t, router)

	assert.True(t, stack.routers.Has("room-1"))
	assert.Equal(t, 1, stack.routers.Count())

	infos := stack.pool.Workers()
	require.Len(t, infos, 1)
	assert.Equal(t, 1, infos[0].RouterCount)
}

func TestRouterRegistry_ConcurrentFirstJoinCreatesOneRouter(t *testing.T) {
	stack, err := newTestStack(2)
	require.NoError(t, err)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]ports.Router, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = stack.routers.GetOrCreate(context.Background(), "room-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 1, stack.routers.Count())
}

func TestRouterRegistry_DistributesRoomsAcrossWorkers(t *testing.T) {
	stack, err := newTestStack(2)
	require.NoError(t, err)

	_, err = stack.routers.GetOrCreate(context.Background(), "room-a")
	require.NoError(t, err)
	_, err = stack.routers.GetOrCreate(context.Background(), "room-b")
	require.NoError(t, err)

	pids := make(map[int]bool)
	for _, info := range stack.routers.Routers() {
		pids[info.WorkerPID] = true
	}
	assert.Len(t, pids, 2)
}

func TestRouterRegistry_FailedCreationAllowsRetry(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	boom := errors.New("router refused")
	stack.engine.Workers()[0].SetCreateRouterError(boom)

	_, err = stack.routers.GetOrCreate(context.Background(), "room-1")
	require.ErrorIs(t, err, boom)
	assert.False(t, stack.routers.Has("room-1"))

	// A later join must not be stuck on the failed attempt.
	stack.engine.Workers()[0].SetCreateRouterError(nil)
	router, err := stack.routers.GetOrCreate(context.Background(), "room-1")
	require.NoError(t, err)
	assert.NotNil(t, router)
}

func TestRouterRegistry_NoWorkers(t *testing.T) {
	pool := NewWorkerPool(enginetest.New(), ports.WorkerSettings{}, StrategyRoundRobin, testLogger())
	routers := NewRouterRegistry(pool, domain.DefaultMediaCodecs(), testLogger())

	_, err := routers.GetOrCreate(context.Background(), "room-1")
	assert.ErrorIs(t, err, domain.ErrNoWorkersAvailable)
}

func TestRouterRegistry_GetNeverCreates(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	_, err = stack.routers.Get("room-1")
	assert.ErrorIs(t, err, domain.ErrRouterNotFound)
	assert.Equal(t, 0, stack.routers.Count())
}

func TestRouterRegistry_RtpCapabilities(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	caps, err := stack.routers.RtpCapabilities(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultMediaCodecs(), caps.Codecs)
	assert.True(t, stack.routers.Has("room-1"))
}

func TestRouterRegistry_CloseReleasesWorker(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	_, err = stack.routers.GetOrCreate(context.Background(), "room-1")
	require.NoError(t, err)

	stack.routers.Close("room-1")

	assert.False(t, stack.routers.Has("room-1"))
	_, err = stack.routers.Get("room-1")
	assert.ErrorIs(t, err, domain.ErrRouterNotFound)

	infos := stack.pool.Workers()
	require.Len(t, infos, 1)
	assert.Zero(t, infos[0].RouterCount)

	// Closing again is a logged no-op.
	stack.routers.Close("room-1")
}

func TestRouterRegistry_WorkerDeathDropsItsRouters(t *testing.T) {
	stack, err := newTestStack(2)
	require.NoError(t, err)

	_, err = stack.routers.GetOrCreate(context.Background(), "room-a")
	require.NoError(t, err)
	_, err = stack.routers.GetOrCreate(context.Background(), "room-b")
	require.NoError(t, err)

	var deadPID int
	for _, info := range stack.routers.Routers() {
		if info.RoomID == "room-a" {
			deadPID = info.WorkerPID
		}
	}
	require.NotZero(t, deadPID)

	for _, w := range stack.engine.Workers() {
		if w.PID() == deadPID {
			w.Die(errors.New("oom killed"))
		}
	}

	assert.False(t, stack.routers.Has("room-a"))
	assert.True(t, stack.routers.Has("room-b"))
}
