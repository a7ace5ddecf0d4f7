// Package enginetest provides an in-memory ports.MediaEngine for tests. It
// mirrors the real engine's handle tree and close cascade: closing a worker
// closes its routers, a router its transports, a transport its producers and
// consumers, and a closing producer notifies its consumers through the
// producer-closed path.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"proctorsfu/internal/core/domain"
	"proctorsfu/internal/core/ports"
)

// ErrSpawnRefused is returned by CreateWorker while failures are queued via
// FailNext.
var ErrSpawnRefused = errors.New("spawn refused")

// Engine is a fake media engine with controllable failure injection.
type Engine struct {
	mu       sync.Mutex
	nextPID  int
	workers  []*Worker
	failures int
}

func New() *Engine {
	return &Engine{}
}

// FailNext makes the next n CreateWorker calls fail with ErrSpawnRefused.
func (e *Engine) FailNext(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = n
}

func (e *Engine) CreateWorker(ctx context.Context, settings ports.WorkerSettings) (ports.Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failures > 0 {
		e.failures--
		return nil, ErrSpawnRefused
	}

	e.nextPID++
	w := &Worker{pid: e.nextPID}
	e.workers = append(e.workers, w)
	return w, nil
}

// Workers returns every worker ever spawned, dead or alive.
func (e *Engine) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Worker, len(e.workers))
	copy(out, e.workers)
	return out
}

// Spawned returns how many workers were ever created.
func (e *Engine) Spawned() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

type Worker struct {
	pid int

	mu              sync.Mutex
	routers         []*Router
	died            []func(error)
	closed          bool
	createRouterErr error
}

func (w *Worker) PID() int { return w.pid }

// SetCreateRouterError makes subsequent CreateRouter calls fail.
func (w *Worker) SetCreateRouterError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.createRouterErr = err
}

func (w *Worker) CreateRouter(ctx context.Context, mediaCodecs []domain.RtpCodecCapability) (ports.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.createRouterErr != nil {
		return nil, w.createRouterErr
	}

	r := &Router{
		id:     fmt.Sprintf("router-%d-%d", w.pid, len(w.routers)+1),
		codecs: mediaCodecs,
		byID:   make(map[domain.ProducerID]*Producer),
	}
	w.routers = append(w.routers, r)
	return r, nil
}

func (w *Worker) OnDied(fn func(err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.died = append(w.died, fn)
}

// Die simulates an unexpected process exit, firing the OnDied callbacks.
func (w *Worker) Die(err error) {
	w.mu.Lock()
	fns := make([]func(error), len(w.died))
	copy(fns, w.died)
	w.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}

func (w *Worker) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	routers := make([]*Router, len(w.routers))
	copy(routers, w.routers)
	w.mu.Unlock()

	for _, r := range routers {
		r.Close()
	}
	return nil
}

type Router struct {
	id     string
	codecs []domain.RtpCodecCapability

	mu                 sync.Mutex
	transports         []*Transport
	byID               map[domain.ProducerID]*Producer
	closed             bool
	createTransportErr error
	canConsume         func(domain.ProducerID, domain.RtpCapabilities) bool
	nextID             int
}

func (r *Router) ID() string { return r.id }

func (r *Router) RtpCapabilities() domain.RtpCapabilities {
	return domain.RtpCapabilities{Codecs: r.codecs}
}

// SetCreateTransportError makes subsequent CreateWebRtcTransport calls fail.
func (r *Router) SetCreateTransportError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createTransportErr = err
}

// SetCanConsume overrides the compatibility check. The default reports true
// for any producer that exists on the router.
func (r *Router) SetCanConsume(fn func(domain.ProducerID, domain.RtpCapabilities) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canConsume = fn
}

func (r *Router) CreateWebRtcTransport(ctx context.Context, opts ports.WebRtcTransportOptions) (ports.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createTransportErr != nil {
		return nil, r.createTransportErr
	}

	r.nextID++
	t := &Transport{
		id:     domain.TransportID(fmt.Sprintf("%s-transport-%d", r.id, r.nextID)),
		router: r,
	}
	r.transports = append(r.transports, t)
	return t, nil
}

func (r *Router) CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool {
	r.mu.Lock()
	check := r.canConsume
	_, exists := r.byID[producerID]
	r.mu.Unlock()

	if check != nil {
		return check(producerID, caps)
	}
	return exists
}

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*Transport, len(r.transports))
	copy(transports, r.transports)
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	return nil
}

type Transport struct {
	id     domain.TransportID
	router *Router

	mu           sync.Mutex
	connectCalls int
	connectErr   error
	produceErr   error
	consumeErr   error
	producers    []*Producer
	consumers    []*Consumer
	onClosed     []func()
	closed       bool
	nextID       int
}

func (t *Transport) ID() domain.TransportID { return t.id }

func (t *Transport) ConnectParams() domain.TransportConnectParams {
	return domain.TransportConnectParams{
		ID: t.id,
		IceParameters: domain.IceParameters{
			UsernameFragment: "ufrag-" + string(t.id),
			Password:         "pwd-" + string(t.id),
			IceLite:          true,
		},
		IceCandidates: []domain.IceCandidate{
			{Foundation: "udpcandidate", IP: "127.0.0.1", Port: 40000, Protocol: "udp", Type: "host"},
		},
		DtlsParameters: domain.DtlsParameters{
			Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "00:11"}},
		},
	}
}

// SetConnectError makes subsequent Connect calls fail.
func (t *Transport) SetConnectError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr = err
}

// SetProduceError makes subsequent Produce calls fail.
func (t *Transport) SetProduceError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.produceErr = err
}

// SetConsumeError makes subsequent Consume calls fail.
func (t *Transport) SetConsumeError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consumeErr = err
}

func (t *Transport) Connect(ctx context.Context, dtls domain.DtlsParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectCalls++
	return t.connectErr
}

// ConnectCount reports how many times Connect reached the engine.
func (t *Transport) ConnectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectCalls
}

func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, params domain.RtpParameters) (ports.Producer, error) {
	t.mu.Lock()
	if t.produceErr != nil {
		defer t.mu.Unlock()
		return nil, t.produceErr
	}
	t.nextID++
	p := &Producer{
		id:   domain.ProducerID(fmt.Sprintf("%s-producer-%d", t.id, t.nextID)),
		kind: kind,
	}
	t.producers = append(t.producers, p)
	t.mu.Unlock()

	t.router.mu.Lock()
	t.router.byID[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producerID domain.ProducerID, caps domain.RtpCapabilities) (ports.Consumer, error) {
	t.router.mu.Lock()
	prod, exists := t.router.byID[producerID]
	t.router.mu.Unlock()

	t.mu.Lock()
	if t.consumeErr != nil {
		defer t.mu.Unlock()
		return nil, t.consumeErr
	}
	if !exists {
		defer t.mu.Unlock()
		return nil, fmt.Errorf("producer %s not found on router", producerID)
	}
	t.nextID++
	c := &Consumer{
		id:         domain.ConsumerID(fmt.Sprintf("%s-consumer-%d", t.id, t.nextID)),
		producerID: producerID,
		kind:       prod.kind,
		paused:     true,
	}
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()

	prod.mu.Lock()
	prod.consumers = append(prod.consumers, c)
	prod.mu.Unlock()
	return c, nil
}

func (t *Transport) OnClosed(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClosed = append(t.onClosed, fn)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers := make([]*Producer, len(t.producers))
	copy(producers, t.producers)
	consumers := make([]*Consumer, len(t.consumers))
	copy(consumers, t.consumers)
	fns := make([]func(), len(t.onClosed))
	copy(fns, t.onClosed)
	t.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.close(false)
	}
	for _, fn := range fns {
		fn()
	}
	return nil
}

type Producer struct {
	id   domain.ProducerID
	kind domain.MediaKind

	mu        sync.Mutex
	paused    bool
	closed    bool
	onClosed  []func()
	consumers []*Consumer
}

func (p *Producer) ID() domain.ProducerID  { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }

func (p *Producer) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) Pause(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	return nil
}

func (p *Producer) Resume(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	return nil
}

func (p *Producer) OnClosed(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClosed = append(p.onClosed, fn)
}

func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	fns := make([]func(), len(p.onClosed))
	copy(fns, p.onClosed)
	consumers := make([]*Consumer, len(p.consumers))
	copy(consumers, p.consumers)
	p.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	// Consumers of a closed producer learn about it through the
	// producer-closed path, not an ordinary close.
	for _, c := range consumers {
		c.close(true)
	}
	return nil
}

type Consumer struct {
	id         domain.ConsumerID
	producerID domain.ProducerID
	kind       domain.MediaKind

	mu               sync.Mutex
	paused           bool
	closed           bool
	onClosed         []func()
	onProducerClosed []func()
	keyFrames        int
	spatial          int
	temporal         int
}

func (c *Consumer) ID() domain.ConsumerID         { return c.id }
func (c *Consumer) ProducerID() domain.ProducerID { return c.producerID }
func (c *Consumer) Kind() domain.MediaKind        { return c.kind }

func (c *Consumer) RtpParameters() domain.RtpParameters {
	return domain.RtpParameters{MimeType: "video/VP8", ClockRate: 90000}
}

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	return nil
}

func (c *Consumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	return nil
}

func (c *Consumer) SetPreferredLayers(ctx context.Context, spatial, temporal int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spatial, c.temporal = spatial, temporal
	return nil
}

// PreferredLayers returns the last layers set via SetPreferredLayers.
func (c *Consumer) PreferredLayers() (spatial, temporal int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spatial, c.temporal
}

func (c *Consumer) RequestKeyFrame(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyFrames++
	return nil
}

// KeyFrameRequests reports how many key frames were requested.
func (c *Consumer) KeyFrameRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keyFrames
}

func (c *Consumer) OnClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = append(c.onClosed, fn)
}

func (c *Consumer) OnProducerClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onProducerClosed = append(c.onProducerClosed, fn)
}

func (c *Consumer) close(byProducer bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var fns []func()
	if byProducer {
		fns = append(fns, c.onProducerClosed...)
	} else {
		fns = append(fns, c.onClosed...)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (c *Consumer) Close() error {
	c.close(false)
	return nil
}
