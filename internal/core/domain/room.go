package domain

import (
	"time"
)

// RoomState is the application-level lifecycle of an exam room. It is a
// separate concern from the room's media router, but the two are torn down
// together when the last participant leaves.
type RoomState string

const (
	RoomStateWaiting     RoomState = "waiting"
	RoomStateActive      RoomState = "active"
	RoomStatePaused      RoomState = "paused"
	RoomStateEnded       RoomState = "ended"
	RoomStateInvalidated RoomState = "invalidated"
)

// RoomConfig is the per-room policy surface.
type RoomConfig struct {
	MaxParticipants  int  `json:"maxParticipants"`
	RequireWebcam    bool `json:"requireWebcam"`
	RequireScreen    bool `json:"requireScreen"`
	RequireAudio     bool `json:"requireAudio"`
	RecordingEnabled bool `json:"recordingEnabled"`
}

// Participant is one roster entry of a room.
type Participant struct {
	UserID   UserID    `json:"userId"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Room holds roster and lifecycle state for one exam session.
type Room struct {
	ID           RoomID        `json:"id"`
	State        RoomState     `json:"state"`
	Config       RoomConfig    `json:"config"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"createdAt"`
	EndedAt      time.Time     `json:"endedAt,omitempty"`
}

// HasParticipant reports whether the user is on the roster.
func (r *Room) HasParticipant(userID UserID) bool {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Participant returns the roster entry for the user, if present.
func (r *Room) Participant(userID UserID) (Participant, bool) {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}
