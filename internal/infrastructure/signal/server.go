package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"proctorsfu/internal/core/domain"
	"proctorsfu/internal/core/services"
	"proctorsfu/internal/infrastructure/monitoring"
	"proctorsfu/pkg/tracing"
	"proctorsfu/pkg/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// TokenVerifier authenticates a join token. Nil disables authentication.
type TokenVerifier interface {
	Verify(token string) (domain.UserID, domain.Role, error)
}

// Config holds the signaling server timing knobs.
type Config struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the WebSocket-facing orchestrator. It owns the connection-id →
// session mapping, dispatches inbound messages to the registries and fans out
// room-state and producer-availability notifications.
type Server struct {
	rooms      *services.RoomService
	routers    *services.RouterRegistry
	transports *services.TransportRegistry
	producers  *services.ProducerRegistry
	consumers  *services.ConsumerRegistry

	verifier TokenVerifier
	metrics  *monitoring.PrometheusCollector
	cfg      Config

	mu        sync.RWMutex
	sessions  map[domain.ConnectionID]*session
	roomIndex map[domain.RoomID]map[domain.ConnectionID]*session
	userIndex map[domain.UserID]*session

	logger *zap.SugaredLogger
}

func NewServer(
	rooms *services.RoomService,
	routers *services.RouterRegistry,
	transports *services.TransportRegistry,
	producers *services.ProducerRegistry,
	consumers *services.ConsumerRegistry,
	verifier TokenVerifier,
	metrics *monitoring.PrometheusCollector,
	cfg Config,
	logger *zap.SugaredLogger,
) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	s := &Server{
		rooms:      rooms,
		routers:    routers,
		transports: transports,
		producers:  producers,
		consumers:  consumers,
		verifier:   verifier,
		metrics:    metrics,
		cfg:        cfg,
		sessions:   make(map[domain.ConnectionID]*session),
		roomIndex:  make(map[domain.RoomID]map[domain.ConnectionID]*session),
		userIndex:  make(map[domain.UserID]*session),
		logger:     logger,
	}

	// New producers fan out to everyone else in the room. The registry fires
	// this only after the producer is queryable.
	producers.OnNewProducer(func(info domain.ProducerInfo) {
		s.broadcastToRoom(info.RoomID, s.sessionIDForUser(info.UserID), newEnvelope(TypeProducerNew, ProducerEventPayload{
			ProducerID: info.ID,
			UserID:     info.UserID,
			Kind:       info.Kind,
			TrackType:  info.TrackType,
		}, ""))
	})

	// The producer-gone cascade surfaces to the affected viewer as a
	// distinct signal, not a silent registry removal.
	consumers.OnProducerClosed(func(info domain.ConsumerInfo) {
		if sess := s.sessionForUser(info.UserID); sess != nil {
			s.sendTo(sess, newEnvelope(TypeProducerClosed, ProducerClosedPayload{
				ConsumerID: info.ID,
				ProducerID: info.ProducerID,
			}, ""))
		}
	})

	return s
}

// HandleWebSocket upgrades the connection and runs its signaling loop until
// disconnect or heartbeat timeout.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sess := newSession(domain.ConnectionID(uuid.NewString()), conn, s.cfg.WriteTimeout)

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	s.metrics.SessionOpened()

	s.logger.Infow("signaling connection opened", "connection_id", sess.id, "remote", r.RemoteAddr)

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan Envelope, 16)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			messageChan <- env
		}
	}()

	for {
		select {
		case env := <-messageChan:
			s.dispatch(r.Context(), sess, env)

		case <-pingTicker.C:
			if err := sess.sendPing(); err != nil {
				s.logger.Infow("ping failed, dropping connection",
					"connection_id", sess.id,
					"error", err,
				)
				s.disconnect(sess)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("read error on signaling connection",
					"connection_id", sess.id,
					"error", err,
				)
			}
			s.disconnect(sess)
			return
		}
	}
}

// dispatch routes one inbound envelope. Registry errors become error replies
// with a stable code and the original type; they never kill the connection.
func (s *Server) dispatch(ctx context.Context, sess *session, env Envelope) {
	if env.Type == "" {
		s.sendError(sess, env, fmt.Errorf("%w: missing type", domain.ErrInvalidMessage))
		return
	}

	userID, _, _, _ := sess.identity()
	ctx, span := tracing.TraceSignalMessage(ctx, env.Type, string(userID))
	defer span.End()

	s.metrics.IncMessage(env.Type)

	var err error
	switch env.Type {
	case TypePing:
		err = sess.send(newEnvelope(TypePong, nil, env.CorrelationID))
	case TypeRoomJoin:
		err = s.handleJoin(ctx, sess, env)
	case TypeRtpCapabilitiesGet:
		err = s.handleRtpCapabilities(ctx, sess, env)
	case TypeTransportCreate:
		err = s.handleTransportCreate(ctx, sess, env)
	case TypeTransportConnect:
		err = s.handleTransportConnect(ctx, sess, env)
	case TypeProduce:
		err = s.handleProduce(ctx, sess, env)
	case TypeConsume:
		err = s.handleConsume(ctx, sess, env)
	case TypeConsumerResume:
		err = s.handleConsumerResume(ctx, sess, env)
	case TypeConsumerPause:
		err = s.handleConsumerPause(ctx, sess, env)
	case TypeProducerPause:
		err = s.handleProducerPause(ctx, sess, env)
	case TypeProducerResume:
		err = s.handleProducerResume(ctx, sess, env)
	case TypeProducersGet:
		err = s.handleProducersGet(ctx, sess, env)
	default:
		err = fmt.Errorf("%w: unknown type %q", domain.ErrInvalidMessage, utils.TruncateString(env.Type, 64))
	}

	if err != nil {
		tracing.RecordError(ctx, err)
		s.sendError(sess, env, err)
	}
}

func (s *Server) handleJoin(ctx context.Context, sess *session, env Envelope) error {
	started := time.Now()

	var payload JoinPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	if utils.IsEmpty(string(payload.RoomID)) || utils.IsEmpty(string(payload.UserID)) {
		return fmt.Errorf("%w: roomId and userId are required", domain.ErrInvalidMessage)
	}
	if payload.Role != domain.RoleCandidate && payload.Role != domain.RoleProctor {
		return fmt.Errorf("%w: role must be candidate or proctor", domain.ErrInvalidMessage)
	}

	if s.verifier != nil {
		userID, role, err := s.verifier.Verify(payload.Token)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
		}
		if userID != payload.UserID || role != payload.Role {
			return fmt.Errorf("%w: token does not match claimed identity", domain.ErrInvalidMessage)
		}
	}

	room, err := s.rooms.Join(ctx, payload.RoomID, payload.UserID, payload.Role)
	if err != nil {
		return err
	}

	sess.bind(payload.UserID, payload.RoomID, payload.Role)

	s.mu.Lock()
	if s.roomIndex[payload.RoomID] == nil {
		s.roomIndex[payload.RoomID] = make(map[domain.ConnectionID]*session)
	}
	s.roomIndex[payload.RoomID][sess.id] = sess
	s.userIndex[payload.UserID] = sess
	s.mu.Unlock()

	// Room state reflects the roster after the joiner's own addition.
	if err := sess.send(newEnvelope(TypeRoomState, RoomStatePayload{
		Room:      room,
		Producers: s.producers.InRoom(payload.RoomID),
	}, env.CorrelationID)); err != nil {
		return err
	}

	s.broadcastToRoom(payload.RoomID, sess.id, newEnvelope(TypeParticipantJoined, ParticipantEventPayload{
		RoomID: payload.RoomID,
		UserID: payload.UserID,
		Role:   payload.Role,
	}, ""))

	s.logger.Infow("participant joined",
		"connection_id", sess.id,
		"room_id", payload.RoomID,
		"user_id", payload.UserID,
		"role", payload.Role,
		"token", utils.MaskSensitive(payload.Token, 4),
	)

	s.metrics.ObserveJoin(time.Since(started))
	return nil
}

func (s *Server) handleRtpCapabilities(ctx context.Context, sess *session, env Envelope) error {
	_, roomID, _, ok := sess.identity()
	if !ok {
		return domain.ErrNotInRoom
	}

	caps, err := s.routers.RtpCapabilities(ctx, roomID)
	if err != nil {
		return err
	}
	return sess.send(newEnvelope(TypeRtpCapabilities, RtpCapabilitiesPayload{RtpCapabilities: caps}, env.CorrelationID))
}

func (s *Server) handleTransportCreate(ctx context.Context, sess *session, env Envelope) error {
	userID, roomID, _, ok := sess.identity()
	if !ok {
		return domain.ErrNotInRoom
	}

	var payload TransportCreatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	if payload.Direction != domain.DirectionSend && payload.Direction != domain.DirectionRecv {
		return fmt.Errorf("%w: direction must be send or recv", domain.ErrInvalidMessage)
	}

	params, err := s.transports.Create(ctx, roomID, userID, payload.Direction)
	if err != nil {
		return err
	}
	return sess.send(newEnvelope(TypeTransportCreated, TransportCreatedPayload{
		Direction: payload.Direction,
		Params:    params,
	}, env.CorrelationID))
}

func (s *Server) handleTransportConnect(ctx context.Context, sess *session, env Envelope) error {
	if _, _, _, ok := sess.identity(); !ok {
		return domain.ErrNotInRoom
	}

	var payload TransportConnectPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	if payload.TransportID == "" {
		return fmt.Errorf("%w: transportId is required", domain.ErrInvalidMessage)
	}

	if err := s.transports.Connect(ctx, payload.TransportID, payload.DtlsParameters); err != nil {
		return err
	}
	return sess.send(newEnvelope(TypeTransportConnected, TransportConnectedPayload{TransportID: payload.TransportID}, env.CorrelationID))
}

func (s *Server) handleProduce(ctx context.Context, sess *session, env Envelope) error {
	userID, roomID, _, ok := sess.identity()
	if !ok {
		return domain.ErrNotInRoom
	}

	var payload ProducePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	if payload.TransportID == "" || payload.Kind == "" || payload.TrackType == "" {
		return fmt.Errorf("%w: transportId, kind and trackType are required", domain.ErrInvalidMessage)
	}

	ctx, span := tracing.TraceMediaOperation(ctx, "produce", string(roomID), string(userID))
	defer span.End()

	info, err := s.producers.Produce(ctx, payload.TransportID, payload.Kind, payload.RtpParameters, payload.TrackType)
	if err != nil {
		return err
	}
	return sess.send(newEnvelope(TypeProduceDone, ProduceDonePayload{
		ProducerID: info.ID,
		TrackType:  info.TrackType,
	}, env.CorrelationID))
}

func (s *Server) handleConsume(ctx context.Context, sess *session, env Envelope) error {
	userID, roomID, _, ok := sess.identity()
	if !ok {
		return domain.ErrNotInRoom
	}

	var payload ConsumePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	if payload.TransportID == "" || payload.ProducerID == "" {
		return fmt.Errorf("%w: transportId and producerId are required", domain.ErrInvalidMessage)
	}

	if s.consumers.IsConsuming(userID, payload.ProducerID) {
		return fmt.Errorf("%w: already consuming producer %s", domain.ErrConsumeFailed, payload.ProducerID)
	}

	ctx, span := tracing.TraceMediaOperation(ctx, "consume", string(roomID), string(userID))
	defer span.End()

	info, err := s.consumers.Consume(ctx, roomID, userID, payload.TransportID, payload.ProducerID, payload.RtpCapabilities)
	if err != nil {
		return err
	}
	return sess.send(newEnvelope(TypeConsumerCreated, ConsumerCreatedPayload{
		ConsumerID:    info.ID,
		ProducerID:    info.ProducerID,
		Kind:          info.Kind,
		TrackType:     info.TrackType,
		RtpParameters: info.RtpParams,
	}, env.CorrelationID))
}

func (s *Server) handleConsumerResume(ctx context.Context, sess *session, env Envelope) error {
	if _, _, _, ok := sess.identity(); !ok {
		return domain.ErrNotInRoom
	}

	var payload ConsumerRefPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	if err := s.consumers.Resume(ctx, payload.ConsumerID); err != nil {
		return err
	}
	return sess.send(newEnvelope(TypeConsumerResumed, ConsumerRefPayload{ConsumerID: payload.ConsumerID}, env.CorrelationID))
}

func (s *Server) handleConsumerPause(ctx context.Context, sess *session, env Envelope) error {
	if _, _, _, ok := sess.identity(); !ok {
		return domain.ErrNotInRoom
	}

	var payload ConsumerRefPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	if err := s.consumers.Pause(ctx, payload.ConsumerID); err != nil {
		return err
	}
	return sess.send(newEnvelope(TypeConsumerPaused, ConsumerRefPayload{ConsumerID: payload.ConsumerID}, env.CorrelationID))
}

func (s *Server) handleProducerPause(ctx context.Context, sess *session, env Envelope) error {
	userID, roomID, _, ok := sess.identity()
	if !ok {
		return domain.ErrNotInRoom
	}

	var payload ProducerRefPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}

	info, err := s.ownedProducer(userID, payload.ProducerID)
	if err != nil {
		return err
	}
	if err := s.producers.Pause(ctx, payload.ProducerID); err != nil {
		return err
	}

	s.broadcastToRoom(roomID, "", newEnvelope(TypeProducerPaused, ProducerEventPayload{
		ProducerID: info.ID,
		UserID:     info.UserID,
		TrackType:  info.TrackType,
	}, ""))
	return nil
}

func (s *Server) handleProducerResume(ctx context.Context, sess *session, env Envelope) error {
	userID, roomID, _, ok := sess.identity()
	if !ok {
		return domain.ErrNotInRoom
	}

	var payload ProducerRefPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}

	info, err := s.ownedProducer(userID, payload.ProducerID)
	if err != nil {
		return err
	}
	if err := s.producers.Resume(ctx, payload.ProducerID); err != nil {
		return err
	}

	s.broadcastToRoom(roomID, "", newEnvelope(TypeProducerResumed, ProducerEventPayload{
		ProducerID: info.ID,
		UserID:     info.UserID,
		TrackType:  info.TrackType,
	}, ""))
	return nil
}

// ownedProducer gates pause/resume to the producing peer.
func (s *Server) ownedProducer(userID domain.UserID, producerID domain.ProducerID) (domain.ProducerInfo, error) {
	info, err := s.producers.Get(producerID)
	if err != nil {
		return domain.ProducerInfo{}, err
	}
	if info.UserID != userID {
		return domain.ProducerInfo{}, domain.ErrProducerNotFound
	}
	return info, nil
}

func (s *Server) handleProducersGet(_ context.Context, sess *session, env Envelope) error {
	userID, roomID, _, ok := sess.identity()
	if !ok {
		return domain.ErrNotInRoom
	}

	all := s.producers.InRoom(roomID)
	others := make([]domain.ProducerInfo, 0, len(all))
	for _, info := range all {
		if info.UserID != userID {
			others = append(others, info)
		}
	}
	return sess.send(newEnvelope(TypeProducersList, ProducersListPayload{Producers: others}, env.CorrelationID))
}

// disconnect runs the full bottom-up cleanup cascade for a connection. It is
// the single exit path for graceful closes, read errors and heartbeat
// timeouts alike.
func (s *Server) disconnect(sess *session) {
	userID, roomID, _, joined := sess.identity()
	sess.markClosed()

	s.mu.Lock()
	if _, ok := s.sessions[sess.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sess.id)
	if joined {
		if peers, ok := s.roomIndex[roomID]; ok {
			delete(peers, sess.id)
			if len(peers) == 0 {
				delete(s.roomIndex, roomID)
			}
		}
		if s.userIndex[userID] == sess {
			delete(s.userIndex, userID)
		}
	}
	s.mu.Unlock()
	s.metrics.SessionClosed()

	if !joined {
		s.logger.Infow("signaling connection closed", "connection_id", sess.id)
		return
	}

	s.producers.CloseForPeer(userID)
	s.consumers.CloseForPeer(userID)
	s.transports.CloseForPeer(userID)

	empty, err := s.rooms.Leave(context.Background(), roomID, userID)
	if err != nil {
		s.logger.Warnw("error removing participant from room",
			"room_id", roomID,
			"user_id", userID,
			"error", err,
		)
	}
	if empty {
		s.routers.Close(roomID)
	}

	s.broadcastToRoom(roomID, sess.id, newEnvelope(TypeParticipantLeft, ParticipantEventPayload{
		RoomID: roomID,
		UserID: userID,
	}, ""))

	s.logger.Infow("signaling connection closed",
		"connection_id", sess.id,
		"user_id", userID,
		"room_id", roomID,
		"room_ended", empty,
	)
}

// broadcastToRoom sends to every joined connection in the room except the
// excluded one. Pass an empty exclude id to reach everyone.
func (s *Server) broadcastToRoom(roomID domain.RoomID, exclude domain.ConnectionID, env Envelope) {
	s.mu.RLock()
	peers := make([]*session, 0, len(s.roomIndex[roomID]))
	for id, sess := range s.roomIndex[roomID] {
		if id == exclude {
			continue
		}
		peers = append(peers, sess)
	}
	s.mu.RUnlock()

	for _, sess := range peers {
		s.sendTo(sess, env)
	}
}

func (s *Server) sendTo(sess *session, env Envelope) {
	if err := sess.send(env); err != nil {
		s.logger.Warnw("failed to send to connection",
			"connection_id", sess.id,
			"type", env.Type,
			"error", err,
		)
	}
}

func (s *Server) sendError(sess *session, original Envelope, err error) {
	code := domain.CodeOf(err)
	s.metrics.IncError(code)

	s.logger.Infow("signaling request failed",
		"connection_id", sess.id,
		"type", original.Type,
		"code", code,
		"error", err,
	)

	s.sendTo(sess, newEnvelope(TypeError, ErrorPayload{
		Code:         code,
		Message:      err.Error(),
		OriginalType: original.Type,
	}, original.CorrelationID))
}

func (s *Server) sessionForUser(userID domain.UserID) *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userIndex[userID]
}

func (s *Server) sessionIDForUser(userID domain.UserID) domain.ConnectionID {
	if sess := s.sessionForUser(userID); sess != nil {
		return sess.id
	}
	return ""
}

// ConnectionCount returns the number of live sessions, used by health checks.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown closes every live connection so their loops run the disconnect
// cascade.
func (s *Server) Shutdown() {
	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		sess.conn.Close()
	}
}
