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

// RoomService manages the application-level room entity: roster, per-room
// policy and lifecycle state. Media routing for the room is the router
// registry's concern; the signaling layer tears both down together.
type RoomService struct {
	repo          ports.RoomRepository
	defaultConfig domain.RoomConfig

	// Serializes join/leave per process. Roster mutations are rare compared
	// to media operations, a single lock is enough at this scale.
	mu sync.Mutex

	logger *zap.SugaredLogger
}

func NewRoomService(repo ports.RoomRepository, defaultConfig domain.RoomConfig, logger *zap.SugaredLogger) *RoomService {
	return &RoomService{
		repo:          repo,
		defaultConfig: defaultConfig,
		logger:        logger,
	}
}

// Join adds the user to the room roster, creating the room on first join.
// Fails with ErrRoomFull at capacity. Rejoining is idempotent for the roster.
func (s *RoomService) Join(ctx context.Context, roomID domain.RoomID, userID domain.UserID, role domain.Role) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.repo.GetByID(ctx, roomID)
	if err != nil {
		room = &domain.Room{
			ID:        roomID,
			State:     domain.RoomStateWaiting,
			Config:    s.defaultConfig,
			CreatedAt: time.Now(),
		}
		if err := s.repo.Create(ctx, room); err != nil {
			return nil, fmt.Errorf("failed to create room %s: %w", roomID, err)
		}
		s.logger.Infow("room created", "room_id", roomID)
	}

	if room.State == domain.RoomStateEnded || room.State == domain.RoomStateInvalidated {
		return nil, domain.ErrRoomNotFound
	}

	if room.HasParticipant(userID) {
		return room, nil
	}

	if room.Config.MaxParticipants > 0 && len(room.Participants) >= room.Config.MaxParticipants {
		return nil, domain.ErrRoomFull
	}

	room.Participants = append(room.Participants, domain.Participant{
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Now(),
	})
	if room.State == domain.RoomStateWaiting && role == domain.RoleCandidate {
		room.State = domain.RoomStateActive
	}

	if err := s.repo.Update(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to update room %s: %w", roomID, err)
	}

	s.logger.Infow("participant joined room",
		"room_id", roomID,
		"user_id", userID,
		"role", role,
		"participants", len(room.Participants),
	)
	return room, nil
}

// Leave removes the user from the roster. Returns true when the room is now
// empty; the caller then closes the room's router and the room is marked
// ended.
func (s *RoomService) Leave(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.repo.GetByID(ctx, roomID)
	if err != nil {
		return false, domain.ErrRoomNotFound
	}

	idx := -1
	for i, p := range room.Participants {
		if p.UserID == userID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false, nil
	}
	room.Participants = append(room.Participants[:idx], room.Participants[idx+1:]...)

	empty := len(room.Participants) == 0
	if empty {
		room.State = domain.RoomStateEnded
		room.EndedAt = time.Now()
	}

	if err := s.repo.Update(ctx, room); err != nil {
		return empty, fmt.Errorf("failed to update room %s: %w", roomID, err)
	}

	s.logger.Infow("participant left room",
		"room_id", roomID,
		"user_id", userID,
		"participants", len(room.Participants),
		"room_ended", empty,
	)
	return empty, nil
}

// Get returns the room.
func (s *RoomService) Get(ctx context.Context, roomID domain.RoomID) (*domain.Room, error) {
	room, err := s.repo.GetByID(ctx, roomID)
	if err != nil {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

// ListActive returns rooms that have not ended.
func (s *RoomService) ListActive(ctx context.Context) ([]*domain.Room, error) {
	return s.repo.ListActive(ctx)
}

// SetState drives the paused/active transitions from the admin surface.
func (s *RoomService) SetState(ctx context.Context, roomID domain.RoomID, state domain.RoomState) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.repo.GetByID(ctx, roomID)
	if err != nil {
		return nil, domain.ErrRoomNotFound
	}
	if room.State == domain.RoomStateEnded || room.State == domain.RoomStateInvalidated {
		return nil, fmt.Errorf("room %s already %s", roomID, room.State)
	}

	room.State = state
	if state == domain.RoomStateEnded || state == domain.RoomStateInvalidated {
		room.EndedAt = time.Now()
	}
	if err := s.repo.Update(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to update room %s: %w", roomID, err)
	}

	s.logger.Infow("room state changed", "room_id", roomID, "state", state)
	return room, nil
}
