package memory

import (
	"context"
	"testing"
	"time"

	"proctorsfu/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRoom(id domain.RoomID, state domain.RoomState) *domain.Room {
	return &domain.Room{
		ID:    id,
		State: state,
		Participants: []domain.Participant{
			{UserID: "candidate-1", Role: domain.RoleCandidate, JoinedAt: time.Now()},
		},
		CreatedAt: time.Now(),
	}
}

func TestMemoryRoomRepository_CreateAndGet(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleRoom("exam-1", domain.RoomStateWaiting)))

	got, err := repo.GetByID(ctx, "exam-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("exam-1"), got.ID)
	assert.Equal(t, domain.RoomStateWaiting, got.State)
	assert.Len(t, got.Participants, 1)

	assert.Error(t, repo.Create(ctx, sampleRoom("exam-1", domain.RoomStateWaiting)))
}

func TestMemoryRoomRepository_GetReturnsClone(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, sampleRoom("exam-1", domain.RoomStateActive)))

	got, err := repo.GetByID(ctx, "exam-1")
	require.NoError(t, err)
	got.State = domain.RoomStateEnded
	got.Participants[0].UserID = "tampered"

	fresh, err := repo.GetByID(ctx, "exam-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStateActive, fresh.State)
	assert.Equal(t, domain.UserID("candidate-1"), fresh.Participants[0].UserID)
}

func TestMemoryRoomRepository_Update(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, sampleRoom("exam-1", domain.RoomStateWaiting)))

	room, err := repo.GetByID(ctx, "exam-1")
	require.NoError(t, err)
	room.State = domain.RoomStatePaused
	require.NoError(t, repo.Update(ctx, room))

	got, err := repo.GetByID(ctx, "exam-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatePaused, got.State)

	err = repo.Update(ctx, sampleRoom("ghost", domain.RoomStateWaiting))
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestMemoryRoomRepository_Delete(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, sampleRoom("exam-1", domain.RoomStateWaiting)))

	require.NoError(t, repo.Delete(ctx, "exam-1"))
	_, err := repo.GetByID(ctx, "exam-1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, "exam-1"), domain.ErrRoomNotFound)
}

func TestMemoryRoomRepository_ListActive(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, sampleRoom("waiting", domain.RoomStateWaiting)))
	require.NoError(t, repo.Create(ctx, sampleRoom("active", domain.RoomStateActive)))
	require.NoError(t, repo.Create(ctx, sampleRoom("paused", domain.RoomStatePaused)))
	require.NoError(t, repo.Create(ctx, sampleRoom("ended", domain.RoomStateEnded)))
	require.NoError(t, repo.Create(ctx, sampleRoom("invalid", domain.RoomStateInvalidated)))

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)

	ids := make([]domain.RoomID, 0, len(active))
	for _, room := range active {
		ids = append(ids, room.ID)
	}
	assert.ElementsMatch(t, []domain.RoomID{"waiting", "active", "paused"}, ids)
}
