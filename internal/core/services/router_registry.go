package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"proctorsfu/internal/core/domain"
	"proctorsfu/internal/core/ports"

	"go.uber.org/zap"
)

// routerEntry serializes creation per room: concurrent GetOrCreate calls for
// the same room share one entry and its sync.Once, so exactly one router is
// ever created per room id.
type routerEntry struct {
	once sync.Once

	router    ports.Router
	workerPID int
	createdAt time.Time
	err       error
}

// RouterRegistry keeps one media router per room, lazily created on first
// join and bound to a pool worker.
type RouterRegistry struct {
	pool        *WorkerPool
	mediaCodecs []domain.RtpCodecCapability

	mu      sync.RWMutex
	entries map[domain.RoomID]*routerEntry

	logger *zap.SugaredLogger
}

func NewRouterRegistry(pool *WorkerPool, mediaCodecs []domain.RtpCodecCapability, logger *zap.SugaredLogger) *RouterRegistry {
	r := &RouterRegistry{
		pool:        pool,
		mediaCodecs: mediaCodecs,
		entries:     make(map[domain.RoomID]*routerEntry),
		logger:      logger,
	}
	// Routers on a dead worker are lost; affected rooms must rejoin.
	pool.OnWorkerDied(r.closeForWorker)
	return r
}

// GetOrCreate returns the room's router, creating and binding it to a worker
// on first call. Safe under concurrent first-joins of the same room.
func (r *RouterRegistry) GetOrCreate(ctx context.Context, roomID domain.RoomID) (ports.Router, error) {
	r.mu.Lock()
	entry, ok := r.entries[roomID]
	if !ok {
		entry = &routerEntry{}
		r.entries[roomID] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		worker, err := r.pool.Next()
		if err != nil {
			entry.err = err
			return
		}

		router, err := worker.CreateRouter(ctx, r.mediaCodecs)
		if err != nil {
			entry.err = fmt.Errorf("failed to create router for room %s: %w", roomID, err)
			return
		}

		entry.router = router
		entry.workerPID = worker.PID()
		entry.createdAt = time.Now()
		r.pool.RouterBound(worker.PID())

		r.logger.Infow("router created",
			"room_id", roomID,
			"router_id", router.ID(),
			"worker_pid", worker.PID(),
		)
	})

	if entry.err != nil {
		// Failed creation must not poison the room: drop the entry so a
		// later join retries from scratch.
		r.mu.Lock()
		if r.entries[roomID] == entry {
			delete(r.entries, roomID)
		}
		r.mu.Unlock()
		return nil, entry.err
	}

	return entry.router, nil
}

// Get returns the existing router for the room; it never creates one.
func (r *RouterRegistry) Get(roomID domain.RoomID) (ports.Router, error) {
	r.mu.RLock()
	entry, ok := r.entries[roomID]
	r.mu.RUnlock()

	if !ok || entry.router == nil {
		return nil, domain.ErrRouterNotFound
	}
	return entry.router, nil
}

// RtpCapabilities returns the room router's fixed capability list, creating
// the router first if needed.
func (r *RouterRegistry) RtpCapabilities(ctx context.Context, roomID domain.RoomID) (domain.RtpCapabilities, error) {
	router, err := r.GetOrCreate(ctx, roomID)
	if err != nil {
		return domain.RtpCapabilities{}, err
	}
	return router.RtpCapabilities(), nil
}

// Close tears down the room's router. The engine cascades the close to all
// transports, producers and consumers on it. No-op when the room has none.
func (r *RouterRegistry) Close(roomID domain.RoomID) {
	r.mu.Lock()
	entry, ok := r.entries[roomID]
	if ok {
		delete(r.entries, roomID)
	}
	r.mu.Unlock()

	if !ok || entry.router == nil {
		r.logger.Warnw("close requested for unknown router", "room_id", roomID)
		return
	}

	if err := entry.router.Close(); err != nil {
		r.logger.Warnw("error closing router",
			"room_id", roomID,
			"router_id", entry.router.ID(),
			"error", err,
		)
	}
	r.pool.RouterUnbound(entry.workerPID)

	r.logger.Infow("router closed",
		"room_id", roomID,
		"router_id", entry.router.ID(),
		"worker_pid", entry.workerPID,
	)
}

// closeForWorker drops every router bound to a dead worker. The engine side
// is already gone, so entries are removed without closing handles; peers
// discover the loss on their next operation and rejoin.
func (r *RouterRegistry) closeForWorker(pid int) {
	r.mu.Lock()
	var lost []domain.RoomID
	for roomID, entry := range r.entries {
		if entry.router != nil && entry.workerPID == pid {
			lost = append(lost, roomID)
			delete(r.entries, roomID)
		}
	}
	r.mu.Unlock()

	for _, roomID := range lost {
		r.logger.Errorw("router lost with dead worker, room must rejoin",
			"room_id", roomID,
			"worker_pid", pid,
		)
	}
}

// Has reports whether the room currently has a router.
func (r *RouterRegistry) Has(roomID domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[roomID]
	return ok && entry.router != nil
}

// Count returns the number of live routers.
func (r *RouterRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, entry := range r.entries {
		if entry.router != nil {
			n++
		}
	}
	return n
}

// Routers returns a snapshot for introspection.
func (r *RouterRegistry) Routers() []domain.RouterInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]domain.RouterInfo, 0, len(r.entries))
	for roomID, entry := range r.entries {
		if entry.router == nil {
			continue
		}
		infos = append(infos, domain.RouterInfo{
			RoomID:    roomID,
			WorkerPID: entry.workerPID,
			CreatedAt: entry.createdAt,
		})
	}
	return infos
}
