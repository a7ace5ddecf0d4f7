package domain

import "time"

// WorkerInfo is the registry-visible view of one media worker process.
type WorkerInfo struct {
	PID         int       `json:"pid"`
	RouterCount int       `json:"routerCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RouterInfo is the registry-visible view of one per-room router.
type RouterInfo struct {
	RoomID    RoomID    `json:"roomId"`
	WorkerPID int       `json:"workerPid"`
	CreatedAt time.Time `json:"createdAt"`
}

// TransportInfo is the registry-visible view of one peer transport.
type TransportInfo struct {
	ID        TransportID        `json:"id"`
	RoomID    RoomID             `json:"roomId"`
	UserID    UserID             `json:"userId"`
	Direction TransportDirection `json:"direction"`
	Connected bool               `json:"connected"`
	CreatedAt time.Time          `json:"createdAt"`
}

// ProducerInfo is the registry-visible view of one outbound media track.
type ProducerInfo struct {
	ID          ProducerID  `json:"id"`
	TransportID TransportID `json:"transportId"`
	RoomID      RoomID      `json:"roomId"`
	UserID      UserID      `json:"userId"`
	Kind        MediaKind   `json:"kind"`
	TrackType   TrackType   `json:"trackType"`
	Paused      bool        `json:"paused"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// ConsumerInfo is the registry-visible view of one (viewer, producer) pair.
type ConsumerInfo struct {
	ID          ConsumerID    `json:"id"`
	ProducerID  ProducerID    `json:"producerId"`
	TransportID TransportID   `json:"transportId"`
	RoomID      RoomID        `json:"roomId"`
	UserID      UserID        `json:"userId"`
	Kind        MediaKind     `json:"kind"`
	TrackType   TrackType     `json:"trackType"`
	Paused      bool          `json:"paused"`
	RtpParams   RtpParameters `json:"rtpParameters"`
	CreatedAt   time.Time     `json:"createdAt"`
}
