package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"proctorsfu/internal/core/domain"
	"proctorsfu/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

var nextCandidatePort int64

type transport struct {
	id     domain.TransportID
	router *router
	pc     *webrtc.PeerConnection
	params domain.TransportConnectParams

	mu        sync.Mutex
	connected bool
	closed    bool
	producers map[domain.ProducerID]*producer
	consumers map[domain.ConsumerID]*consumer

	onClosed closeOnce
}

func newTransport(id domain.TransportID, r *router, pc *webrtc.PeerConnection, fingerprints []webrtc.DTLSFingerprint, opts ports.WebRtcTransportOptions) *transport {
	ip := opts.AnnouncedIP
	if ip == "" {
		ip = opts.ListenIP
	}

	min := int64(r.worker.settings.RtcMinPort)
	span := int64(r.worker.settings.RtcMaxPort) - min
	if span <= 0 {
		span = 1
	}
	port := min + atomic.AddInt64(&nextCandidatePort, 1)%span

	dtls := domain.DtlsParameters{Role: "auto"}
	for _, fp := range fingerprints {
		dtls.Fingerprints = append(dtls.Fingerprints, domain.DtlsFingerprint{
			Algorithm: fp.Algorithm,
			Value:     fp.Value,
		})
	}

	t := &transport{
		id:        id,
		router:    r,
		pc:        pc,
		producers: make(map[domain.ProducerID]*producer),
		consumers: make(map[domain.ConsumerID]*consumer),
		params: domain.TransportConnectParams{
			ID: id,
			IceParameters: domain.IceParameters{
				UsernameFragment: randomToken(8),
				Password:         randomToken(24),
				IceLite:          true,
			},
			IceCandidates: []domain.IceCandidate{{
				Foundation: "udpcandidate",
				IP:         ip,
				Port:       int(port),
				Protocol:   "udp",
				Type:       "host",
				Priority:   1076302079,
			}},
			DtlsParameters: dtls,
		},
	}

	// pion keeps only the last registered track handler, so remote tracks
	// are routed to producers from one place instead of each Produce
	// installing its own.
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p := t.producerForRemote(uint32(remote.SSRC()), remote.RID(), domain.MediaKind(remote.Kind().String()))
		if p == nil {
			return
		}
		p.storeSSRC(uint32(remote.SSRC()))
		go p.forward(remote)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			t.close()
		}
	})

	return t
}

// producerForRemote picks the producer a remote track belongs to: first by
// the SSRC or RID declared in its RtpParameters, then by kind when exactly
// one producer of that kind exists. Webcam and screen are both video, so
// kind alone cannot tell them apart.
func (t *transport) producerForRemote(ssrc uint32, rid string, kind domain.MediaKind) *producer {
	t.mu.Lock()
	defer t.mu.Unlock()

	var byKind *producer
	kindMatches := 0
	for _, p := range t.producers {
		for _, enc := range p.params.Encodings {
			if enc.SSRC != 0 && enc.SSRC == ssrc {
				return p
			}
			if rid != "" && enc.Rid == rid {
				return p
			}
		}
		if p.kind == kind {
			byKind = p
			kindMatches++
		}
	}
	if kindMatches == 1 {
		return byKind
	}
	return nil
}

func (t *transport) ID() domain.TransportID { return t.id }

func (t *transport) ConnectParams() domain.TransportConnectParams { return t.params }

// Connect records the remote DTLS material. The actual handshake completes on
// the ICE path once the client reaches the advertised candidate; the control
// plane only needs the one-shot state transition.
func (t *transport) Connect(_ context.Context, dtls domain.DtlsParameters) error {
	if len(dtls.Fingerprints) == 0 {
		return fmt.Errorf("remote dtls parameters carry no fingerprints")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport %s is closed", t.id)
	}
	t.connected = true
	return nil
}

func (t *transport) Produce(_ context.Context, kind domain.MediaKind, params domain.RtpParameters) (ports.Producer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport %s is closed", t.id)
	}
	t.mu.Unlock()

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:  params.MimeType,
			ClockRate: uint32(params.ClockRate),
			Channels:  uint16(params.Channels),
		},
		uuid.NewString(),
		uuid.NewString(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create forwarding track: %w", err)
	}

	p := &producer{
		id:        domain.ProducerID(uuid.NewString()),
		kind:      kind,
		params:    params,
		transport: t,
		track:     track,
	}

	t.mu.Lock()
	t.producers[p.id] = p
	t.mu.Unlock()
	t.router.registerProducer(p)

	return p, nil
}

func (t *transport) Consume(_ context.Context, producerID domain.ProducerID, caps domain.RtpCapabilities) (ports.Consumer, error) {
	prod, ok := t.router.producerByID(producerID)
	if !ok {
		return nil, fmt.Errorf("producer %s not found on router %s", producerID, t.router.id)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport %s is closed", t.id)
	}
	t.mu.Unlock()

	sender, err := t.pc.AddTrack(prod.track)
	if err != nil {
		return nil, fmt.Errorf("failed to attach track for producer %s: %w", producerID, err)
	}

	c := &consumer{
		id:        domain.ConsumerID(uuid.NewString()),
		producer:  prod,
		transport: t,
		sender:    sender,
		paused:    true,
	}
	// Created paused: no media flows until the viewer resumes.
	if err := sender.ReplaceTrack(nil); err != nil {
		return nil, fmt.Errorf("failed to pause new consumer: %w", err)
	}

	t.mu.Lock()
	t.consumers[c.id] = c
	t.mu.Unlock()
	prod.attachConsumer(c)

	return c, nil
}

func (t *transport) OnClosed(fn func()) {
	t.onClosed.subscribe(fn)
}

func (t *transport) Close() error {
	t.close()
	return nil
}

func (t *transport) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	producers := make([]*producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	for _, p := range producers {
		p.close()
	}
	for _, c := range consumers {
		c.close(false)
	}

	t.pc.Close()
	t.router.removeTransport(t.id)
	t.onClosed.fire()
}

func (t *transport) removeProducer(id domain.ProducerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.producers, id)
}

func (t *transport) removeConsumer(id domain.ConsumerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.consumers, id)
}
