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

// registeredProducer pairs the engine handle with registry metadata.
type registeredProducer struct {
	handle ports.Producer
	info   domain.ProducerInfo
}

// NewProducerListener is notified after a producer is registered and
// queryable. Listeners typically fan the event out to other peers in the room.
type NewProducerListener func(info domain.ProducerInfo)

// ProducerRegistry keeps one entry per active outbound media track.
type ProducerRegistry struct {
	transports *TransportRegistry

	mu        sync.RWMutex
	producers map[domain.ProducerID]*registeredProducer
	listeners []NewProducerListener

	logger *zap.SugaredLogger
}

func NewProducerRegistry(transports *TransportRegistry, logger *zap.SugaredLogger) *ProducerRegistry {
	return &ProducerRegistry{
		transports: transports,
		producers:  make(map[domain.ProducerID]*registeredProducer),
		logger:     logger,
	}
}

// OnNewProducer registers a listener for newly registered producers. A
// panicking listener is isolated and logged; the rest still run.
func (p *ProducerRegistry) OnNewProducer(fn NewProducerListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Produce creates a producer on the peer's send transport. The new-producer
// listeners fire only after the registry entry is stored, so a listener that
// immediately queries the registry always finds the producer.
func (p *ProducerRegistry) Produce(ctx context.Context, transportID domain.TransportID, kind domain.MediaKind, params domain.RtpParameters, trackType domain.TrackType) (domain.ProducerInfo, error) {
	transport, tinfo, err := p.transports.Handle(transportID)
	if err != nil {
		return domain.ProducerInfo{}, err
	}
	if tinfo.Direction != domain.DirectionSend {
		return domain.ProducerInfo{}, fmt.Errorf("%w: produce requires a send transport, got %s", domain.ErrWrongTransportDirection, tinfo.Direction)
	}

	handle, err := transport.Produce(ctx, kind, params)
	if err != nil {
		return domain.ProducerInfo{}, fmt.Errorf("%w: %v", domain.ErrProduceFailed, err)
	}

	info := domain.ProducerInfo{
		ID:          handle.ID(),
		TransportID: transportID,
		RoomID:      tinfo.RoomID,
		UserID:      tinfo.UserID,
		Kind:        kind,
		TrackType:   trackType,
		CreatedAt:   time.Now(),
	}

	p.mu.Lock()
	p.producers[handle.ID()] = &registeredProducer{handle: handle, info: info}
	listeners := make([]NewProducerListener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	handle.OnClosed(func() {
		p.mu.Lock()
		delete(p.producers, handle.ID())
		p.mu.Unlock()
	})

	p.logger.Infow("producer created",
		"producer_id", info.ID,
		"room_id", info.RoomID,
		"user_id", info.UserID,
		"kind", kind,
		"track_type", trackType,
	)

	for _, fn := range listeners {
		p.notify(fn, info)
	}

	return info, nil
}

func (p *ProducerRegistry) notify(fn NewProducerListener, info domain.ProducerInfo) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("new-producer listener panicked",
				"producer_id", info.ID,
				"panic", r,
			)
		}
	}()
	fn(info)
}

// Pause pauses the producer's media flow.
func (p *ProducerRegistry) Pause(ctx context.Context, producerID domain.ProducerID) error {
	reg, err := p.get(producerID)
	if err != nil {
		return err
	}
	if err := reg.handle.Pause(ctx); err != nil {
		return fmt.Errorf("failed to pause producer %s: %w", producerID, err)
	}

	p.mu.Lock()
	reg.info.Paused = true
	p.mu.Unlock()
	return nil
}

// Resume resumes a paused producer.
func (p *ProducerRegistry) Resume(ctx context.Context, producerID domain.ProducerID) error {
	reg, err := p.get(producerID)
	if err != nil {
		return err
	}
	if err := reg.handle.Resume(ctx); err != nil {
		return fmt.Errorf("failed to resume producer %s: %w", producerID, err)
	}

	p.mu.Lock()
	reg.info.Paused = false
	p.mu.Unlock()
	return nil
}

// Close tears down one producer; consumers of it are cascaded by the engine.
// Double closes are expected during concurrent peer-leave handling, so an
// unknown id only warns.
func (p *ProducerRegistry) Close(producerID domain.ProducerID) {
	p.mu.Lock()
	reg, ok := p.producers[producerID]
	if ok {
		delete(p.producers, producerID)
	}
	p.mu.Unlock()

	if !ok {
		p.logger.Warnw("close requested for unknown producer", "producer_id", producerID)
		return
	}

	if err := reg.handle.Close(); err != nil {
		p.logger.Warnw("error closing producer",
			"producer_id", producerID,
			"error", err,
		)
	}

	p.logger.Infow("producer closed",
		"producer_id", producerID,
		"room_id", reg.info.RoomID,
		"user_id", reg.info.UserID,
		"track_type", reg.info.TrackType,
	)
}

// CloseForPeer closes all of a peer's producers from a snapshot, so the
// cascade cannot trip over concurrent map mutation.
func (p *ProducerRegistry) CloseForPeer(userID domain.UserID) {
	for _, info := range p.ForPeer(userID) {
		p.Close(info.ID)
	}
}

func (p *ProducerRegistry) get(producerID domain.ProducerID) (*registeredProducer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	reg, ok := p.producers[producerID]
	if !ok {
		return nil, domain.ErrProducerNotFound
	}
	return reg, nil
}

// Get returns the producer's metadata.
func (p *ProducerRegistry) Get(producerID domain.ProducerID) (domain.ProducerInfo, error) {
	reg, err := p.get(producerID)
	if err != nil {
		return domain.ProducerInfo{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return reg.info, nil
}

// ForPeer returns all producers owned by the user.
func (p *ProducerRegistry) ForPeer(userID domain.UserID) []domain.ProducerInfo {
	return p.matching(func(info domain.ProducerInfo) bool {
		return info.UserID == userID
	})
}

// InRoom returns all producers in the room.
func (p *ProducerRegistry) InRoom(roomID domain.RoomID) []domain.ProducerInfo {
	return p.matching(func(info domain.ProducerInfo) bool {
		return info.RoomID == roomID
	})
}

// ByTrackType returns the user's producer of the given track type, if any.
func (p *ProducerRegistry) ByTrackType(userID domain.UserID, trackType domain.TrackType) (domain.ProducerInfo, bool) {
	for _, info := range p.ForPeer(userID) {
		if info.TrackType == trackType {
			return info, true
		}
	}
	return domain.ProducerInfo{}, false
}

func (p *ProducerRegistry) matching(match func(domain.ProducerInfo) bool) []domain.ProducerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var infos []domain.ProducerInfo
	for _, reg := range p.producers {
		if match(reg.info) {
			infos = append(infos, reg.info)
		}
	}
	return infos
}

// Count returns the number of registered producers.
func (p *ProducerRegistry) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.producers)
}
