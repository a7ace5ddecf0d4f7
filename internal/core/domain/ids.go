package domain

type RoomID string
type UserID string
type ConnectionID string
type TransportID string
type ProducerID string
type ConsumerID string

// MediaKind is the engine-level media kind of a track.
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// TrackType is the application-level tag for a produced track. A peer may hold
// at most one producer per track type (webcam, screen, audio).
type TrackType string

const (
	TrackTypeWebcam TrackType = "webcam"
	TrackTypeScreen TrackType = "screen"
	TrackTypeAudio  TrackType = "audio"
)

// TransportDirection distinguishes the send (upload) transport from the
// receive (download) transport of a peer.
type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

// Role of a joined user.
type Role string

const (
	RoleCandidate Role = "candidate"
	RoleProctor   Role = "proctor"
)
