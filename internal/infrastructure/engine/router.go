package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"proctorsfu/internal/core/domain"
	"proctorsfu/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type router struct {
	id     string
	worker *worker
	codecs []domain.RtpCodecCapability

	mu         sync.Mutex
	transports map[domain.TransportID]*transport
	producers  map[domain.ProducerID]*producer
	closed     bool

	logger *zap.SugaredLogger
}

func (r *router) ID() string { return r.id }

func (r *router) RtpCapabilities() domain.RtpCapabilities {
	return domain.RtpCapabilities{Codecs: r.codecs}
}

func (r *router) CreateWebRtcTransport(_ context.Context, opts ports.WebRtcTransportOptions) (ports.Transport, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("router %s is closed", r.id)
	}
	r.mu.Unlock()

	cert, err := generateCertificate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate transport certificate: %w", err)
	}

	pc, err := r.worker.api.NewPeerConnection(webrtc.Configuration{
		Certificates: []webrtc.Certificate{*cert},
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	fingerprints, err := cert.GetFingerprints()
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to read certificate fingerprints: %w", err)
	}

	t := newTransport(domain.TransportID(uuid.NewString()), r, pc, fingerprints, opts)

	r.mu.Lock()
	r.transports[t.id] = t
	r.mu.Unlock()

	return t, nil
}

// CanConsume mirrors the mediasoup check: the producer must exist on this
// router and at least one of its codecs must appear in the viewer's
// receiving capabilities.
func (r *router) CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool {
	r.mu.Lock()
	prod, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	for _, codec := range caps.Codecs {
		if strings.EqualFold(codec.MimeType, prod.params.MimeType) {
			return true
		}
	}
	return false
}

func (r *router) Close() error {
	r.close()
	return nil
}

func (r *router) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := make([]*transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.close()
	}
	r.worker.removeRouter(r.id)
}

func (r *router) registerProducer(p *producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.id] = p
}

func (r *router) removeProducer(id domain.ProducerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
}

func (r *router) producerByID(id domain.ProducerID) (*producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *router) removeTransport(id domain.TransportID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
}
