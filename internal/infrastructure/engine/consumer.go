package engine

import (
	"context"
	"sync"

	"proctorsfu/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
)

type consumer struct {
	id        domain.ConsumerID
	producer  *producer
	transport *transport
	sender    *webrtc.RTPSender

	mu     sync.Mutex
	paused bool
	closed bool

	onClosed         closeOnce
	onProducerClosed closeOnce
}

func (c *consumer) ID() domain.ConsumerID { return c.id }

func (c *consumer) ProducerID() domain.ProducerID { return c.producer.id }

func (c *consumer) Kind() domain.MediaKind { return c.producer.kind }

func (c *consumer) RtpParameters() domain.RtpParameters { return c.producer.params }

func (c *consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Pause detaches the forwarding track from the sender so no media flows.
func (c *consumer) Pause(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.paused {
		return nil
	}
	if err := c.sender.ReplaceTrack(nil); err != nil {
		return err
	}
	c.paused = true
	return nil
}

// Resume re-attaches the forwarding track.
func (c *consumer) Resume(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.paused {
		return nil
	}
	if err := c.sender.ReplaceTrack(c.producer.track); err != nil {
		return err
	}
	c.paused = false
	return nil
}

// SetPreferredLayers is advisory: with a single-encoding producer there is
// nothing to switch.
func (c *consumer) SetPreferredLayers(_ context.Context, spatial, temporal int) error {
	if len(c.producer.params.Encodings) < 2 {
		return nil
	}
	_ = spatial
	_ = temporal
	return nil
}

// RequestKeyFrame sends a PLI towards the publisher.
func (c *consumer) RequestKeyFrame(_ context.Context) error {
	ssrc := c.producer.ssrc.Load()
	if ssrc == 0 {
		return nil
	}
	return c.producer.transport.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: ssrc},
	})
}

func (c *consumer) OnClosed(fn func()) {
	c.onClosed.subscribe(fn)
}

func (c *consumer) OnProducerClosed(fn func()) {
	c.onProducerClosed.subscribe(fn)
}

func (c *consumer) Close() error {
	c.close(false)
	return nil
}

// close tears the consumer down. byProducer selects which close event fires:
// the producer-gone cascade surfaces differently to the viewer than an
// ordinary close.
func (c *consumer) close(byProducer bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.transport.removeConsumer(c.id)
	if !byProducer {
		c.producer.detachConsumer(c.id)
	}
	if c.sender != nil {
		c.transport.pc.RemoveTrack(c.sender)
	}

	if byProducer {
		c.onProducerClosed.fire()
	} else {
		c.onClosed.fire()
	}
}
