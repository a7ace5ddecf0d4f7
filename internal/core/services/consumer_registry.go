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

// registeredConsumer pairs the engine handle with registry metadata.
type registeredConsumer struct {
	handle ports.Consumer
	info   domain.ConsumerInfo
}

// ProducerClosedListener is notified when a consumer's source producer closed
// out from under the viewer, as distinct from the consumer itself closing.
type ProducerClosedListener func(info domain.ConsumerInfo)

// ConsumerRegistry keeps one entry per (viewer, producer) pair. Consumers are
// always created paused: media must not flow before the viewer has attached
// the track, or early frames are dropped until the next key frame.
type ConsumerRegistry struct {
	routers    *RouterRegistry
	transports *TransportRegistry
	producers  *ProducerRegistry

	mu               sync.RWMutex
	consumers        map[domain.ConsumerID]*registeredConsumer
	producerClosedFn []ProducerClosedListener

	logger *zap.SugaredLogger
}

func NewConsumerRegistry(routers *RouterRegistry, transports *TransportRegistry, producers *ProducerRegistry, logger *zap.SugaredLogger) *ConsumerRegistry {
	return &ConsumerRegistry{
		routers:    routers,
		transports: transports,
		producers:  producers,
		consumers:  make(map[domain.ConsumerID]*registeredConsumer),
		logger:     logger,
	}
}

// OnProducerClosed registers a listener for the "producer gone" cascade, so
// the signaling layer can tell the viewer to drop the tile.
func (c *ConsumerRegistry) OnProducerClosed(fn ProducerClosedListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.producerClosedFn = append(c.producerClosedFn, fn)
}

// Consume creates a paused consumer for the viewer on their receive
// transport. The compatibility check runs before anything is created, so an
// incompatible pair never leaves a half-built consumer behind.
func (c *ConsumerRegistry) Consume(ctx context.Context, roomID domain.RoomID, viewerID domain.UserID, transportID domain.TransportID, producerID domain.ProducerID, caps domain.RtpCapabilities) (domain.ConsumerInfo, error) {
	router, err := c.routers.Get(roomID)
	if err != nil {
		return domain.ConsumerInfo{}, err
	}

	producerInfo, err := c.producers.Get(producerID)
	if err != nil {
		return domain.ConsumerInfo{}, err
	}

	if !router.CanConsume(producerID, caps) {
		return domain.ConsumerInfo{}, fmt.Errorf("%w: producer %s", domain.ErrIncompatibleCodec, producerID)
	}

	transport, tinfo, err := c.transports.Handle(transportID)
	if err != nil {
		return domain.ConsumerInfo{}, err
	}
	if tinfo.Direction != domain.DirectionRecv {
		return domain.ConsumerInfo{}, fmt.Errorf("%w: consume requires a recv transport, got %s", domain.ErrWrongTransportDirection, tinfo.Direction)
	}

	handle, err := transport.Consume(ctx, producerID, caps)
	if err != nil {
		return domain.ConsumerInfo{}, fmt.Errorf("%w: %v", domain.ErrConsumeFailed, err)
	}

	info := domain.ConsumerInfo{
		ID:          handle.ID(),
		ProducerID:  producerID,
		TransportID: transportID,
		RoomID:      roomID,
		UserID:      viewerID,
		Kind:        handle.Kind(),
		TrackType:   producerInfo.TrackType,
		Paused:      true,
		RtpParams:   handle.RtpParameters(),
		CreatedAt:   time.Now(),
	}

	c.mu.Lock()
	c.consumers[handle.ID()] = &registeredConsumer{handle: handle, info: info}
	c.mu.Unlock()

	handle.OnClosed(func() {
		c.mu.Lock()
		delete(c.consumers, handle.ID())
		c.mu.Unlock()
	})
	handle.OnProducerClosed(func() {
		c.handleProducerClosed(handle.ID())
	})

	c.logger.Infow("consumer created",
		"consumer_id", info.ID,
		"producer_id", producerID,
		"room_id", roomID,
		"viewer_id", viewerID,
		"track_type", info.TrackType,
	)

	return info, nil
}

func (c *ConsumerRegistry) handleProducerClosed(consumerID domain.ConsumerID) {
	c.mu.Lock()
	reg, ok := c.consumers[consumerID]
	if ok {
		delete(c.consumers, consumerID)
	}
	listeners := make([]ProducerClosedListener, len(c.producerClosedFn))
	copy(listeners, c.producerClosedFn)
	c.mu.Unlock()

	if !ok {
		return
	}

	c.logger.Infow("consumer removed, source producer gone",
		"consumer_id", consumerID,
		"producer_id", reg.info.ProducerID,
		"viewer_id", reg.info.UserID,
	)

	for _, fn := range listeners {
		fn(reg.info)
	}
}

// Resume starts media flow after the viewer attached the track.
func (c *ConsumerRegistry) Resume(ctx context.Context, consumerID domain.ConsumerID) error {
	reg, err := c.get(consumerID)
	if err != nil {
		return err
	}
	if err := reg.handle.Resume(ctx); err != nil {
		return fmt.Errorf("failed to resume consumer %s: %w", consumerID, err)
	}

	c.mu.Lock()
	reg.info.Paused = false
	c.mu.Unlock()
	return nil
}

// Pause re-pauses a consumer, e.g. when the viewer scrolls a tile off-screen.
func (c *ConsumerRegistry) Pause(ctx context.Context, consumerID domain.ConsumerID) error {
	reg, err := c.get(consumerID)
	if err != nil {
		return err
	}
	if err := reg.handle.Pause(ctx); err != nil {
		return fmt.Errorf("failed to pause consumer %s: %w", consumerID, err)
	}

	c.mu.Lock()
	reg.info.Paused = true
	c.mu.Unlock()
	return nil
}

// SetPreferredLayers forwards the advisory layer selection to the engine.
func (c *ConsumerRegistry) SetPreferredLayers(ctx context.Context, consumerID domain.ConsumerID, spatial, temporal int) error {
	reg, err := c.get(consumerID)
	if err != nil {
		return err
	}
	return reg.handle.SetPreferredLayers(ctx, spatial, temporal)
}

// RequestKeyFrame asks the engine for a key frame, used to recover from
// visible corruption.
func (c *ConsumerRegistry) RequestKeyFrame(ctx context.Context, consumerID domain.ConsumerID) error {
	reg, err := c.get(consumerID)
	if err != nil {
		return err
	}
	return reg.handle.RequestKeyFrame(ctx)
}

// IsConsuming reports whether the viewer already consumes the producer, used
// to prevent duplicate consumers for the same pair.
func (c *ConsumerRegistry) IsConsuming(viewerID domain.UserID, producerID domain.ProducerID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, reg := range c.consumers {
		if reg.info.UserID == viewerID && reg.info.ProducerID == producerID {
			return true
		}
	}
	return false
}

// Close tears down one consumer. Unknown ids warn only, so a close racing a
// cascade stays harmless.
func (c *ConsumerRegistry) Close(consumerID domain.ConsumerID) {
	c.mu.Lock()
	reg, ok := c.consumers[consumerID]
	if ok {
		delete(c.consumers, consumerID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warnw("close requested for unknown consumer", "consumer_id", consumerID)
		return
	}

	if err := reg.handle.Close(); err != nil {
		c.logger.Warnw("error closing consumer",
			"consumer_id", consumerID,
			"error", err,
		)
	}
}

// CloseForPeer closes all consumers of a viewer from a snapshot.
func (c *ConsumerRegistry) CloseForPeer(userID domain.UserID) {
	for _, info := range c.ForPeer(userID) {
		c.Close(info.ID)
	}
}

// CloseOfProducer closes every consumer tracking the producer.
func (c *ConsumerRegistry) CloseOfProducer(producerID domain.ProducerID) {
	for _, info := range c.matching(func(info domain.ConsumerInfo) bool {
		return info.ProducerID == producerID
	}) {
		c.Close(info.ID)
	}
}

func (c *ConsumerRegistry) get(consumerID domain.ConsumerID) (*registeredConsumer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	reg, ok := c.consumers[consumerID]
	if !ok {
		return nil, domain.ErrConsumerNotFound
	}
	return reg, nil
}

// Get returns the consumer's metadata.
func (c *ConsumerRegistry) Get(consumerID domain.ConsumerID) (domain.ConsumerInfo, error) {
	reg, err := c.get(consumerID)
	if err != nil {
		return domain.ConsumerInfo{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return reg.info, nil
}

// ForPeer returns all consumers belonging to the viewer.
func (c *ConsumerRegistry) ForPeer(userID domain.UserID) []domain.ConsumerInfo {
	return c.matching(func(info domain.ConsumerInfo) bool {
		return info.UserID == userID
	})
}

func (c *ConsumerRegistry) matching(match func(domain.ConsumerInfo) bool) []domain.ConsumerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var infos []domain.ConsumerInfo
	for _, reg := range c.consumers {
		if match(reg.info) {
			infos = append(infos, reg.info)
		}
	}
	return infos
}

// Count returns the number of registered consumers.
func (c *ConsumerRegistry) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.consumers)
}
