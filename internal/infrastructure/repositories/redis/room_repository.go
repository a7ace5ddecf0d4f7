package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"proctorsfu/internal/core/domain"
	"proctorsfu/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisRoomRepository mirrors room roster and lifecycle state into Redis so
// rooms are inspectable from outside the SFU process.
type RedisRoomRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisRoomRepository(client *redis.Client) ports.RoomRepository {
	return &RedisRoomRepository{
		client: client,
		prefix: "proctorsfu:room:",
	}
}

func (r *RedisRoomRepository) roomKey(id domain.RoomID) string {
	return r.prefix + string(id)
}

func (r *RedisRoomRepository) activeRoomsKey() string {
	return r.prefix + "active"
}

func (r *RedisRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	if err := r.client.Set(ctx, r.roomKey(room.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set room in Redis: %w", err)
	}

	if isActive(room) {
		if err := r.client.SAdd(ctx, r.activeRoomsKey(), string(room.ID)).Err(); err != nil {
			return fmt.Errorf("failed to add room to active set: %w", err)
		}
	}
	return nil
}

func (r *RedisRoomRepository) GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	data, err := r.client.Get(ctx, r.roomKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room from Redis: %w", err)
	}

	var room domain.Room
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return &room, nil
}

func (r *RedisRoomRepository) Update(ctx context.Context, room *domain.Room) error {
	if _, err := r.GetByID(ctx, room.ID); err != nil {
		return err
	}

	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	if err := r.client.Set(ctx, r.roomKey(room.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update room in Redis: %w", err)
	}

	if isActive(room) {
		if err := r.client.SAdd(ctx, r.activeRoomsKey(), string(room.ID)).Err(); err != nil {
			return fmt.Errorf("failed to add room to active set: %w", err)
		}
	} else {
		if err := r.client.SRem(ctx, r.activeRoomsKey(), string(room.ID)).Err(); err != nil {
			return fmt.Errorf("failed to remove room from active set: %w", err)
		}
	}
	return nil
}

func (r *RedisRoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	if err := r.client.SRem(ctx, r.activeRoomsKey(), string(id)).Err(); err != nil {
		return fmt.Errorf("failed to remove room from active set: %w", err)
	}
	if err := r.client.Del(ctx, r.roomKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete room from Redis: %w", err)
	}
	return nil
}

func (r *RedisRoomRepository) ListActive(ctx context.Context) ([]*domain.Room, error) {
	ids, err := r.client.SMembers(ctx, r.activeRoomsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active rooms: %w", err)
	}

	rooms := make([]*domain.Room, 0, len(ids))
	for _, id := range ids {
		room, err := r.GetByID(ctx, domain.RoomID(id))
		if err == domain.ErrRoomNotFound {
			// Stale set member, drop it.
			r.client.SRem(ctx, r.activeRoomsKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func isActive(room *domain.Room) bool {
	return room.State != domain.RoomStateEnded && room.State != domain.RoomStateInvalidated
}
