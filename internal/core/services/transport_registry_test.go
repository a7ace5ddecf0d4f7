package services

import (
	"context"
	"errors"
	"testing"

	"proctorsfu/internal/core/domain"
	"proctorsfu/internal/infrastructure/engine/enginetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportRegistry_Create(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	params, err := stack.transports.Create(context.Background(), "room-1", "alice", domain.DirectionSend)
	require.NoError(t, err)

	assert.NotEmpty(t, params.ID)
	assert.NotEmpty(t, params.IceParameters.UsernameFragment)
	assert.NotEmpty(t, params.IceCandidates)
	assert.NotEmpty(t, params.DtlsParameters.Fingerprints)

	// The room's router is created lazily on the first transport.
	assert.True(t, stack.routers.Has("room-1"))

	_, info, err := stack.transports.Handle(params.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("room-1"), info.RoomID)
	assert.Equal(t, domain.UserID("alice"), info.UserID)
	assert.Equal(t, domain.DirectionSend, info.Direction)
	assert.False(t, info.Connected)
}

func TestTransportRegistry_CreateFailurePropagates(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	router, err := stack.routers.GetOrCreate(context.Background(), "room-1")
	require.NoError(t, err)
	router.(*enginetest.Router).SetCreateTransportError(errors.New("port exhaustion"))

	_, err = stack.transports.Create(context.Background(), "room-1", "alice", domain.DirectionSend)
	assert.ErrorIs(t, err, domain.ErrTransportCreateFailed)
	assert.Equal(t, 0, stack.transports.Count())
}

func TestTransportRegistry_ConnectIsIdempotent(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	params, err := stack.transports.Create(context.Background(), "room-1", "alice", domain.DirectionSend)
	require.NoError(t, err)

	dtls := domain.DtlsParameters{
		Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "aa:bb"}},
	}
	require.NoError(t, stack.transports.Connect(context.Background(), params.ID, dtls))
	require.NoError(t, stack.transports.Connect(context.Background(), params.ID, dtls))

	handle, info, err := stack.transports.Handle(params.ID)
	require.NoError(t, err)
	assert.True(t, info.Connected)
	assert.Equal(t, 1, handle.(*enginetest.Transport).ConnectCount())
}

func TestTransportRegistry_ConnectUnknown(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	err = stack.transports.Connect(context.Background(), "no-such-transport", domain.DtlsParameters{})
	assert.ErrorIs(t, err, domain.ErrTransportNotFound)
}

func TestTransportRegistry_ConnectFailureLeavesDisconnected(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	params, err := stack.transports.Create(context.Background(), "room-1", "alice", domain.DirectionSend)
	require.NoError(t, err)

	handle, _, err := stack.transports.Handle(params.ID)
	require.NoError(t, err)
	handle.(*enginetest.Transport).SetConnectError(errors.New("dtls alert"))

	require.Error(t, stack.transports.Connect(context.Background(), params.ID, domain.DtlsParameters{}))

	_, info, err := stack.transports.Handle(params.ID)
	require.NoError(t, err)
	assert.False(t, info.Connected)

	// A retry after the transient failure goes through.
	handle.(*enginetest.Transport).SetConnectError(nil)
	require.NoError(t, stack.transports.Connect(context.Background(), params.ID, domain.DtlsParameters{}))
}

func TestTransportRegistry_ForPeer(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	send, err := stack.transports.Create(context.Background(), "room-1", "alice", domain.DirectionSend)
	require.NoError(t, err)
	recv, err := stack.transports.Create(context.Background(), "room-1", "alice", domain.DirectionRecv)
	require.NoError(t, err)

	got, err := stack.transports.ForPeer("room-1", "alice", domain.DirectionRecv)
	require.NoError(t, err)
	assert.Equal(t, recv.ID, got.ID())

	got, err = stack.transports.ForPeer("room-1", "alice", domain.DirectionSend)
	require.NoError(t, err)
	assert.Equal(t, send.ID, got.ID())

	_, err = stack.transports.ForPeer("room-1", "bob", domain.DirectionSend)
	assert.ErrorIs(t, err, domain.ErrTransportNotFound)

	assert.Len(t, stack.transports.ForPeerAll("alice"), 2)
}

func TestTransportRegistry_Close(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	params, err := stack.transports.Create(context.Background(), "room-1", "alice", domain.DirectionSend)
	require.NoError(t, err)

	stack.transports.Close(params.ID)

	_, _, err = stack.transports.Handle(params.ID)
	assert.ErrorIs(t, err, domain.ErrTransportNotFound)
	assert.Equal(t, 0, stack.transports.Count())

	// Racing double close is harmless.
	stack.transports.Close(params.ID)
}

func TestTransportRegistry_RouterCloseCascadesDeregistration(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	_, err = stack.transports.Create(context.Background(), "room-1", "alice", domain.DirectionSend)
	require.NoError(t, err)
	_, err = stack.transports.Create(context.Background(), "room-1", "bob", domain.DirectionRecv)
	require.NoError(t, err)
	require.Equal(t, 2, stack.transports.Count())

	// Closing the room's router closes its transports in the engine; the
	// registry learns about it through the close callbacks.
	stack.routers.Close("room-1")
	assert.Equal(t, 0, stack.transports.Count())
}

func TestTransportRegistry_CloseForPeerAndRoom(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	_, err = stack.transports.Create(context.Background(), "room-1", "alice", domain.DirectionSend)
	require.NoError(t, err)
	_, err = stack.transports.Create(context.Background(), "room-1", "alice", domain.DirectionRecv)
	require.NoError(t, err)
	_, err = stack.transports.Create(context.Background(), "room-1", "bob", domain.DirectionSend)
	require.NoError(t, err)
	_, err = stack.transports.Create(context.Background(), "room-2", "carol", domain.DirectionSend)
	require.NoError(t, err)

	stack.transports.CloseForPeer("alice")
	assert.Equal(t, 2, stack.transports.Count())
	assert.Empty(t, stack.transports.ForPeerAll("alice"))

	stack.transports.CloseForRoom("room-1")
	assert.Equal(t, 1, stack.transports.Count())
	assert.Len(t, stack.transports.ForPeerAll("carol"), 1)
}
