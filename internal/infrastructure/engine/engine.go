// Package engine implements the media engine boundary on top of pion/webrtc.
// A "worker" is an isolated webrtc.API with its own ephemeral UDP port range;
// routers, transports, producers and consumers are thin handles over pion
// primitives with the close-cascade semantics the control plane relies on.
package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"proctorsfu/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var nextWorkerPID int64

// Engine implements ports.MediaEngine.
type Engine struct {
	logger *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger) *Engine {
	return &Engine{logger: logger}
}

// CreateWorker builds an isolated webrtc.API bound to the configured UDP port
// range. PIDs are synthetic: pion workers live in-process, but the control
// plane only needs a stable identity per worker.
func (e *Engine) CreateWorker(_ context.Context, settings ports.WorkerSettings) (ports.Worker, error) {
	settingEngine := webrtc.SettingEngine{}
	if settings.RtcMinPort > 0 && settings.RtcMaxPort > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(settings.RtcMinPort, settings.RtcMaxPort); err != nil {
			return nil, err
		}
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))

	w := &worker{
		pid:      int(atomic.AddInt64(&nextWorkerPID, 1)),
		api:      api,
		settings: settings,
		routers:  make(map[string]*router),
		logger:   e.logger,
	}
	return w, nil
}

// closeOnce runs close callbacks exactly once.
type closeOnce struct {
	once sync.Once
	mu   sync.Mutex
	fns  []func()
}

func (c *closeOnce) subscribe(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, fn)
}

func (c *closeOnce) fire() {
	c.once.Do(func() {
		c.mu.Lock()
		fns := make([]func(), len(c.fns))
		copy(fns, c.fns)
		c.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	})
}
