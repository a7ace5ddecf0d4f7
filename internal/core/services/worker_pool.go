package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"proctorsfu/internal/core/domain"
	"proctorsfu/internal/core/ports"
	"proctorsfu/pkg/retry"

	"go.uber.org/zap"
)

// respawnAttempts bounds how many times a dead worker's replacement is retried.
const respawnAttempts = 3

// SelectionStrategy picks how routers are spread over workers.
type SelectionStrategy string

const (
	StrategyRoundRobin  SelectionStrategy = "round-robin"
	StrategyLeastLoaded SelectionStrategy = "least-loaded"
)

// poolWorker pairs an engine handle with its bookkeeping.
type poolWorker struct {
	handle      ports.Worker
	createdAt   time.Time
	routerCount int
}

// WorkerPool owns a fixed-size pool of media worker processes and hands them
// out to the router registry. Round-robin is the default selection; a dead
// worker is removed and replaced asynchronously with bounded retries.
type WorkerPool struct {
	engine   ports.MediaEngine
	settings ports.WorkerSettings
	strategy SelectionStrategy

	mu      sync.Mutex
	workers []*poolWorker
	cursor  int

	onWorkerDied []func(pid int)

	logger *zap.SugaredLogger
}

func NewWorkerPool(engine ports.MediaEngine, settings ports.WorkerSettings, strategy SelectionStrategy, logger *zap.SugaredLogger) *WorkerPool {
	if strategy == "" {
		strategy = StrategyRoundRobin
	}
	return &WorkerPool{
		engine:   engine,
		settings: settings,
		strategy: strategy,
		logger:   logger,
	}
}

// Initialize spawns poolSize workers. Any spawn failure is returned so the
// caller can exit: the process must not accept traffic without its workers.
func (p *WorkerPool) Initialize(ctx context.Context, poolSize int) error {
	if poolSize <= 0 {
		return fmt.Errorf("worker pool size must be > 0, got %d", poolSize)
	}

	for i := 0; i < poolSize; i++ {
		worker, err := p.spawn(ctx)
		if err != nil {
			return fmt.Errorf("failed to spawn worker %d/%d: %w", i+1, poolSize, err)
		}
		p.mu.Lock()
		p.workers = append(p.workers, worker)
		p.mu.Unlock()

		p.logger.Infow("media worker spawned",
			"pid", worker.handle.PID(),
			"index", i,
			"pool_size", poolSize,
		)
	}
	return nil
}

func (p *WorkerPool) spawn(ctx context.Context) (*poolWorker, error) {
	handle, err := p.engine.CreateWorker(ctx, p.settings)
	if err != nil {
		return nil, err
	}

	worker := &poolWorker{handle: handle, createdAt: time.Now()}
	handle.OnDied(func(cause error) {
		p.handleWorkerDied(handle.PID(), cause)
	})
	return worker, nil
}

// Next returns a worker via the configured strategy. Fails when the pool is
// empty, e.g. during a replacement window after a worker death.
func (p *WorkerPool) Next() (ports.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.workers) == 0 {
		return nil, domain.ErrNoWorkersAvailable
	}

	if p.strategy == StrategyLeastLoaded {
		return p.leastLoadedLocked().handle, nil
	}

	worker := p.workers[p.cursor%len(p.workers)]
	p.cursor = (p.cursor + 1) % len(p.workers)
	return worker.handle, nil
}

// LeastLoaded returns the worker with the fewest bound routers regardless of
// the configured strategy.
func (p *WorkerPool) LeastLoaded() (ports.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.workers) == 0 {
		return nil, domain.ErrNoWorkersAvailable
	}
	return p.leastLoadedLocked().handle, nil
}

func (p *WorkerPool) leastLoadedLocked() *poolWorker {
	best := p.workers[0]
	for _, w := range p.workers[1:] {
		if w.routerCount < best.routerCount {
			best = w
		}
	}
	return best
}

// RouterBound records a router bound to the worker with the given pid.
func (p *WorkerPool) RouterBound(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w := p.findLocked(pid); w != nil {
		w.routerCount++
	}
}

// RouterUnbound records a router released from the worker with the given pid.
func (p *WorkerPool) RouterUnbound(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w := p.findLocked(pid); w != nil && w.routerCount > 0 {
		w.routerCount--
	}
}

func (p *WorkerPool) findLocked(pid int) *poolWorker {
	for _, w := range p.workers {
		if w.handle.PID() == pid {
			return w
		}
	}
	return nil
}

// OnWorkerDied registers a callback invoked with the pid of a dead worker
// after it has been removed from the pool. The router registry uses this to
// drop routers bound to the dead worker.
func (p *WorkerPool) OnWorkerDied(fn func(pid int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onWorkerDied = append(p.onWorkerDied, fn)
}

func (p *WorkerPool) handleWorkerDied(pid int, cause error) {
	p.mu.Lock()
	idx := -1
	for i, w := range p.workers {
		if w.handle.PID() == pid {
			idx = i
			break
		}
	}
	if idx == -1 {
		// Already removed, e.g. death raced with Shutdown.
		p.mu.Unlock()
		return
	}
	p.workers = append(p.workers[:idx], p.workers[idx+1:]...)
	if p.cursor >= len(p.workers) {
		p.cursor = 0
	}
	listeners := make([]func(int), len(p.onWorkerDied))
	copy(listeners, p.onWorkerDied)
	p.mu.Unlock()

	p.logger.Errorw("media worker died",
		"pid", pid,
		"cause", cause,
	)

	for _, fn := range listeners {
		fn(pid)
	}

	// Replace asynchronously with backoff. Existing workers keep serving
	// their rooms, so a failed replacement leaves the pool short rather
	// than crashing the process.
	go func() {
		worker, err := retry.DoWithResult(context.Background(), retry.Config{
			Attempts:   respawnAttempts,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   10 * time.Second,
			Multiplier: 2.0,
			Jitter:     true,
		}, func() (*poolWorker, error) {
			return p.spawn(context.Background())
		})
		if err != nil {
			p.logger.Errorw("failed to spawn replacement worker, pool left short",
				"dead_pid", pid,
				"error", err,
			)
			return
		}
		p.mu.Lock()
		p.workers = append(p.workers, worker)
		size := len(p.workers)
		p.mu.Unlock()

		p.logger.Infow("replacement worker spawned",
			"pid", worker.handle.PID(),
			"dead_pid", pid,
			"pool_size", size,
		)
	}()
}

// Size returns the number of live workers.
func (p *WorkerPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Workers returns a snapshot of the pool for introspection.
func (p *WorkerPool) Workers() []domain.WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	infos := make([]domain.WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		infos = append(infos, domain.WorkerInfo{
			PID:         w.handle.PID(),
			RouterCount: w.routerCount,
			CreatedAt:   w.createdAt,
		})
	}
	return infos
}

// Shutdown closes all workers and empties the pool. Called once at process
// termination.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	workers := p.workers
	p.workers = nil
	p.cursor = 0
	p.mu.Unlock()

	for _, w := range workers {
		if err := w.handle.Close(); err != nil {
			p.logger.Warnw("error closing media worker",
				"pid", w.handle.PID(),
				"error", err,
			)
		}
	}

	p.logger.Infow("worker pool shut down", "closed", len(workers))
}
