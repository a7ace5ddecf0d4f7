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

// registeredTransport pairs the engine handle with registry metadata.
type registeredTransport struct {
	handle    ports.Transport
	roomID    domain.RoomID
	userID    domain.UserID
	direction domain.TransportDirection
	connected bool
	createdAt time.Time
}

// TransportRegistry keeps one transport per (room, peer, direction). Each
// connected peer ends up with two: a send transport for uploads and a recv
// transport for downloads.
type TransportRegistry struct {
	routers *RouterRegistry
	opts    ports.WebRtcTransportOptions

	mu         sync.RWMutex
	transports map[domain.TransportID]*registeredTransport

	logger *zap.SugaredLogger
}

func NewTransportRegistry(routers *RouterRegistry, opts ports.WebRtcTransportOptions, logger *zap.SugaredLogger) *TransportRegistry {
	return &TransportRegistry{
		routers:    routers,
		opts:       opts,
		transports: make(map[domain.TransportID]*registeredTransport),
		logger:     logger,
	}
}

// Create makes a new transport on the room's router (creating the router on
// the first-ever transport of a room) and returns the connect parameters the
// client needs.
func (t *TransportRegistry) Create(ctx context.Context, roomID domain.RoomID, userID domain.UserID, direction domain.TransportDirection) (domain.TransportConnectParams, error) {
	router, err := t.routers.GetOrCreate(ctx, roomID)
	if err != nil {
		return domain.TransportConnectParams{}, err
	}

	handle, err := router.CreateWebRtcTransport(ctx, t.opts)
	if err != nil {
		return domain.TransportConnectParams{}, fmt.Errorf("%w: %v", domain.ErrTransportCreateFailed, err)
	}

	reg := &registeredTransport{
		handle:    handle,
		roomID:    roomID,
		userID:    userID,
		direction: direction,
		createdAt: time.Now(),
	}

	t.mu.Lock()
	t.transports[handle.ID()] = reg
	t.mu.Unlock()

	// Deregister when the engine closes the transport underneath us, e.g.
	// via a router close cascade.
	handle.OnClosed(func() {
		t.mu.Lock()
		delete(t.transports, handle.ID())
		t.mu.Unlock()
	})

	t.logger.Infow("transport created",
		"transport_id", handle.ID(),
		"room_id", roomID,
		"user_id", userID,
		"direction", direction,
	)

	return handle.ConnectParams(), nil
}

// Connect completes the DTLS handshake. A second call on an already connected
// transport is a logged no-op, because clients retry connects on flaky links.
func (t *TransportRegistry) Connect(ctx context.Context, transportID domain.TransportID, dtls domain.DtlsParameters) error {
	t.mu.Lock()
	reg, ok := t.transports[transportID]
	if !ok {
		t.mu.Unlock()
		return domain.ErrTransportNotFound
	}
	if reg.connected {
		t.mu.Unlock()
		t.logger.Infow("redundant transport connect ignored", "transport_id", transportID)
		return nil
	}
	t.mu.Unlock()

	if err := reg.handle.Connect(ctx, dtls); err != nil {
		return fmt.Errorf("failed to connect transport %s: %w", transportID, err)
	}

	t.mu.Lock()
	reg.connected = true
	t.mu.Unlock()

	t.logger.Infow("transport connected",
		"transport_id", transportID,
		"room_id", reg.roomID,
		"user_id", reg.userID,
	)
	return nil
}

// Handle returns the engine handle and its registry metadata.
func (t *TransportRegistry) Handle(transportID domain.TransportID) (ports.Transport, domain.TransportInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	reg, ok := t.transports[transportID]
	if !ok {
		return nil, domain.TransportInfo{}, domain.ErrTransportNotFound
	}
	return reg.handle, reg.info(transportID), nil
}

// ForPeer returns the peer's transport of the given direction in the room.
func (t *TransportRegistry) ForPeer(roomID domain.RoomID, userID domain.UserID, direction domain.TransportDirection) (ports.Transport, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, reg := range t.transports {
		if reg.roomID == roomID && reg.userID == userID && reg.direction == direction {
			return reg.handle, nil
		}
	}
	return nil, domain.ErrTransportNotFound
}

// Close tears down one transport; the engine cascades to its producers and
// consumers. Warns and no-ops when unknown, since disconnect cascades race
// with explicit client closes.
func (t *TransportRegistry) Close(transportID domain.TransportID) {
	t.mu.Lock()
	reg, ok := t.transports[transportID]
	if ok {
		delete(t.transports, transportID)
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Warnw("close requested for unknown transport", "transport_id", transportID)
		return
	}

	if err := reg.handle.Close(); err != nil {
		t.logger.Warnw("error closing transport",
			"transport_id", transportID,
			"error", err,
		)
	}

	t.logger.Infow("transport closed",
		"transport_id", transportID,
		"room_id", reg.roomID,
		"user_id", reg.userID,
		"direction", reg.direction,
	)
}

// CloseForPeer closes all of a peer's transports, e.g. on disconnect.
func (t *TransportRegistry) CloseForPeer(userID domain.UserID) {
	for _, id := range t.idsMatching(func(reg *registeredTransport) bool {
		return reg.userID == userID
	}) {
		t.Close(id)
	}
}

// CloseForRoom closes every transport in a room.
func (t *TransportRegistry) CloseForRoom(roomID domain.RoomID) {
	for _, id := range t.idsMatching(func(reg *registeredTransport) bool {
		return reg.roomID == roomID
	}) {
		t.Close(id)
	}
}

// idsMatching snapshots matching ids before any close mutates the map.
func (t *TransportRegistry) idsMatching(match func(*registeredTransport) bool) []domain.TransportID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var ids []domain.TransportID
	for id, reg := range t.transports {
		if match(reg) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns the number of registered transports.
func (t *TransportRegistry) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.transports)
}

// ForPeerAll returns metadata for all of a peer's transports.
func (t *TransportRegistry) ForPeerAll(userID domain.UserID) []domain.TransportInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var infos []domain.TransportInfo
	for id, reg := range t.transports {
		if reg.userID == userID {
			infos = append(infos, reg.info(id))
		}
	}
	return infos
}

func (reg *registeredTransport) info(id domain.TransportID) domain.TransportInfo {
	return domain.TransportInfo{
		ID:        id,
		RoomID:    reg.roomID,
		UserID:    reg.userID,
		Direction: reg.direction,
		Connected: reg.connected,
		CreatedAt: reg.createdAt,
	}
}
