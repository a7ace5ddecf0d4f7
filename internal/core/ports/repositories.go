package ports

import (
	"context"

	"proctorsfu/internal/core/domain"
)

// RoomRepository persists room roster and lifecycle state. Backed by memory
// for single-node deployments or redis when state must be inspectable from
// outside the process.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, roomID domain.RoomID) (*domain.Room, error)
	Update(ctx context.Context, room *domain.Room) error
	Delete(ctx context.Context, roomID domain.RoomID) error
	ListActive(ctx context.Context) ([]*domain.Room, error)
}
