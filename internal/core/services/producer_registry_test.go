package services

import (
	"context"
	"testing"

	"proctorsfu/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func videoParams() domain.RtpParameters {
	return domain.RtpParameters{
		MimeType:  "video/VP8",
		ClockRate: 90000,
		Encodings: []domain.RtpEncodingParameters{{SSRC: 1111}},
	}
}

// produceOn creates a send transport for the user and a producer on it.
func produceOn(t *testing.T, stack *testStack, roomID domain.RoomID, userID domain.UserID, trackType domain.TrackType) domain.ProducerInfo {
	t.Helper()

	params, err := stack.transports.Create(context.Background(), roomID, userID, domain.DirectionSend)
	require.NoError(t, err)

	kind := domain.MediaKindVideo
	if trackType == domain.TrackTypeAudio {
		kind = domain.MediaKindAudio
	}
	info, err := stack.producers.Produce(context.Background(), params.ID, kind, videoParams(), trackType)
	require.NoError(t, err)
	return info
}

func TestProducerRegistry_Produce(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	info := produceOn(t, stack, "room-1", "alice", domain.TrackTypeWebcam)

	assert.NotEmpty(t, info.ID)
	assert.Equal(t, domain.RoomID("room-1"), info.RoomID)
	assert.Equal(t, domain.UserID("alice"), info.UserID)
	assert.Equal(t, domain.MediaKindVideo, info.Kind)
	assert.Equal(t, domain.TrackTypeWebcam, info.TrackType)
	assert.False(t, info.Paused)

	got, err := stack.producers.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, info, got)
	assert.Equal(t, 1, stack.producers.Count())
}

func TestProducerRegistry_ProduceRequiresSendTransport(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	params, err := stack.transports.Create(context.Background(), "room-1", "alice", domain.DirectionRecv)
	require.NoError(t, err)

	_, err = stack.producers.Produce(context.Background(), params.ID, domain.MediaKindVideo, videoParams(), domain.TrackTypeWebcam)
	assert.ErrorIs(t, err, domain.ErrWrongTransportDirection)
	assert.Equal(t, 0, stack.producers.Count())
}

func TestProducerRegistry_ProduceUnknownTransport(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	_, err = stack.producers.Produce(context.Background(), "no-such-transport", domain.MediaKindVideo, videoParams(), domain.TrackTypeWebcam)
	assert.ErrorIs(t, err, domain.ErrTransportNotFound)
}

func TestProducerRegistry_ListenerSeesRegisteredProducer(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	// A listener that turns around and queries the registry must find the
	// producer it was just told about.
	var lookupErr error
	var notified []domain.ProducerID
	stack.producers.OnNewProducer(func(info domain.ProducerInfo) {
		notified = append(notified, info.ID)
		_, lookupErr = stack.producers.Get(info.ID)
	})

	info := produceOn(t, stack, "room-1", "alice", domain.TrackTypeScreen)

	assert.Equal(t, []domain.ProducerID{info.ID}, notified)
	assert.NoError(t, lookupErr)
}

func TestProducerRegistry_PanickingListenerIsIsolated(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	var secondRan bool
	stack.producers.OnNewProducer(func(domain.ProducerInfo) {
		panic("listener bug")
	})
	stack.producers.OnNewProducer(func(domain.ProducerInfo) {
		secondRan = true
	})

	info := produceOn(t, stack, "room-1", "alice", domain.TrackTypeWebcam)

	assert.True(t, secondRan)
	_, err = stack.producers.Get(info.ID)
	assert.NoError(t, err)
}

func TestProducerRegistry_PauseResume(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	info := produceOn(t, stack, "room-1", "alice", domain.TrackTypeAudio)

	require.NoError(t, stack.producers.Pause(context.Background(), info.ID))
	got, err := stack.producers.Get(info.ID)
	require.NoError(t, err)
	assert.True(t, got.Paused)

	require.NoError(t, stack.producers.Resume(context.Background(), info.ID))
	got, err = stack.producers.Get(info.ID)
	require.NoError(t, err)
	assert.False(t, got.Paused)

	assert.ErrorIs(t, stack.producers.Pause(context.Background(), "missing"), domain.ErrProducerNotFound)
	assert.ErrorIs(t, stack.producers.Resume(context.Background(), "missing"), domain.ErrProducerNotFound)
}

func TestProducerRegistry_ByTrackType(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	webcam := produceOn(t, stack, "room-1", "alice", domain.TrackTypeWebcam)
	screen := produceOn(t, stack, "room-1", "alice", domain.TrackTypeScreen)

	got, ok := stack.producers.ByTrackType("alice", domain.TrackTypeScreen)
	require.True(t, ok)
	assert.Equal(t, screen.ID, got.ID)

	got, ok = stack.producers.ByTrackType("alice", domain.TrackTypeWebcam)
	require.True(t, ok)
	assert.Equal(t, webcam.ID, got.ID)

	_, ok = stack.producers.ByTrackType("alice", domain.TrackTypeAudio)
	assert.False(t, ok)
}

func TestProducerRegistry_Close(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	info := produceOn(t, stack, "room-1", "alice", domain.TrackTypeWebcam)

	stack.producers.Close(info.ID)

	_, err = stack.producers.Get(info.ID)
	assert.ErrorIs(t, err, domain.ErrProducerNotFound)
	assert.Equal(t, 0, stack.producers.Count())

	// Racing double close is harmless.
	stack.producers.Close(info.ID)
}

func TestProducerRegistry_CloseForPeerAndRoomQueries(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	produceOn(t, stack, "room-1", "alice", domain.TrackTypeWebcam)
	produceOn(t, stack, "room-1", "alice", domain.TrackTypeScreen)
	bob := produceOn(t, stack, "room-1", "bob", domain.TrackTypeWebcam)

	assert.Len(t, stack.producers.InRoom("room-1"), 3)
	assert.Len(t, stack.producers.ForPeer("alice"), 2)

	stack.producers.CloseForPeer("alice")

	assert.Empty(t, stack.producers.ForPeer("alice"))
	remaining := stack.producers.InRoom("room-1")
	require.Len(t, remaining, 1)
	assert.Equal(t, bob.ID, remaining[0].ID)
}

func TestProducerRegistry_TransportCloseCascadesDeregistration(t *testing.T) {
	stack, err := newTestStack(1)
	require.NoError(t, err)

	info := produceOn(t, stack, "room-1", "alice", domain.TrackTypeWebcam)
	require.Equal(t, 1, stack.producers.Count())

	stack.transports.Close(info.TransportID)

	assert.Equal(t, 0, stack.producers.Count())
	_, err = stack.producers.Get(info.ID)
	assert.ErrorIs(t, err, domain.ErrProducerNotFound)
}
