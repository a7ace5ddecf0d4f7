package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"proctorsfu/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

type producer struct {
	id        domain.ProducerID
	kind      domain.MediaKind
	params    domain.RtpParameters
	transport *transport
	track     *webrtc.TrackLocalStaticRTP

	ssrc   atomic.Uint32
	paused atomic.Bool

	mu        sync.Mutex
	closed    bool
	consumers []*consumer

	onClosed closeOnce
}

func (p *producer) ID() domain.ProducerID { return p.id }

func (p *producer) Kind() domain.MediaKind { return p.kind }

func (p *producer) Pause(_ context.Context) error {
	p.paused.Store(true)
	return nil
}

func (p *producer) Resume(_ context.Context) error {
	p.paused.Store(false)
	return nil
}

func (p *producer) OnClosed(fn func()) {
	p.onClosed.subscribe(fn)
}

func (p *producer) Close() error {
	p.close()
	return nil
}

func (p *producer) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	consumers := make([]*consumer, len(p.consumers))
	copy(consumers, p.consumers)
	p.consumers = nil
	p.mu.Unlock()

	p.transport.router.removeProducer(p.id)
	p.transport.removeProducer(p.id)
	p.onClosed.fire()

	// Consumers of this producer are gone too, signalled as producer-closed
	// rather than a plain close so viewers can tell the difference.
	for _, c := range consumers {
		c.close(true)
	}
}

func (p *producer) attachConsumer(c *consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers = append(p.consumers, c)
}

func (p *producer) detachConsumer(id domain.ConsumerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.consumers {
		if c.id == id {
			p.consumers = append(p.consumers[:i], p.consumers[i+1:]...)
			return
		}
	}
}

func (p *producer) storeSSRC(ssrc uint32) {
	p.ssrc.Store(ssrc)
}

// forward copies the publisher's RTP stream onto the shared local track.
// A paused producer keeps reading so the receiver does not stall, it just
// drops the packets.
func (p *producer) forward(remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}

	for {
		n, _, err := remote.Read(buf)
		if err != nil {
			return
		}
		if p.paused.Load() {
			continue
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if err := p.track.WriteRTP(pkt); err != nil {
			return
		}
	}
}
