package engine

import (
	"context"
	"fmt"
	"sync"

	"proctorsfu/internal/core/domain"
	"proctorsfu/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type worker struct {
	pid      int
	api      *webrtc.API
	settings ports.WorkerSettings

	mu      sync.Mutex
	routers map[string]*router
	closed  bool
	died    []func(err error)

	logger *zap.SugaredLogger
}

func (w *worker) PID() int { return w.pid }

func (w *worker) CreateRouter(_ context.Context, mediaCodecs []domain.RtpCodecCapability) (ports.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("worker %d is closed", w.pid)
	}

	r := &router{
		id:         uuid.NewString(),
		worker:     w,
		codecs:     mediaCodecs,
		transports: make(map[domain.TransportID]*transport),
		producers:  make(map[domain.ProducerID]*producer),
		logger:     w.logger,
	}
	w.routers[r.id] = r
	return r, nil
}

func (w *worker) OnDied(fn func(err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.died = append(w.died, fn)
}

// fireDied is the unexpected-exit path, kept separate from Close: a clean
// Close never reports the worker as dead.
func (w *worker) fireDied(cause error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	routers := w.snapshotRoutersLocked()
	fns := make([]func(error), len(w.died))
	copy(fns, w.died)
	w.mu.Unlock()

	for _, r := range routers {
		r.close()
	}
	for _, fn := range fns {
		fn(cause)
	}
}

func (w *worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	routers := w.snapshotRoutersLocked()
	w.mu.Unlock()

	for _, r := range routers {
		r.close()
	}
	return nil
}

func (w *worker) snapshotRoutersLocked() []*router {
	routers := make([]*router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	return routers
}

func (w *worker) removeRouter(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.routers, id)
}
