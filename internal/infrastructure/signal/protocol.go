package signal

import (
	"encoding/json"
	"time"

	"proctorsfu/internal/core/domain"
)

// Envelope is the JSON frame every signaling message travels in.
type Envelope struct {
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     int64           `json:"timestamp"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// Client → server message types.
const (
	TypeRoomJoin           = "room.join"
	TypeRtpCapabilitiesGet = "router.rtp.capabilities.get"
	TypeTransportCreate    = "transport.create"
	TypeTransportConnect   = "transport.connect"
	TypeProduce            = "produce"
	TypeConsume            = "consume"
	TypeConsumerResume     = "consumer.resume"
	TypeConsumerPause      = "consumer.pause"
	TypeProducerPause      = "producer.pause"
	TypeProducerResume     = "producer.resume"
	TypeProducersGet       = "producers.get"
	TypePing               = "ping"
)

// Server → client message types.
const (
	TypeRoomState          = "room.state"
	TypeRtpCapabilities    = "router.rtp.capabilities"
	TypeTransportCreated   = "transport.created"
	TypeTransportConnected = "transport.connected"
	TypeProduceDone        = "produce.done"
	TypeConsumerCreated    = "consumer.created"
	TypeConsumerResumed    = "consumer.resumed"
	TypeConsumerPaused     = "consumer.paused"
	TypeProducerNew        = "producer.new"
	TypeProducerPaused     = "producer.paused"
	TypeProducerResumed    = "producer.resumed"
	TypeProducerClosed     = "producer.closed"
	TypeProducersList      = "producers.list"
	TypeParticipantJoined  = "participant.joined"
	TypeParticipantLeft    = "participant.left"
	TypePong               = "pong"
	TypeError              = "error"
)

type JoinPayload struct {
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId"`
	Role   domain.Role   `json:"role"`
	Token  string        `json:"token,omitempty"`
}

type RoomStatePayload struct {
	Room      *domain.Room          `json:"room"`
	Producers []domain.ProducerInfo `json:"producers"`
}

type RtpCapabilitiesPayload struct {
	RtpCapabilities domain.RtpCapabilities `json:"rtpCapabilities"`
}

type TransportCreatePayload struct {
	Direction domain.TransportDirection `json:"direction"`
}

type TransportCreatedPayload struct {
	Direction domain.TransportDirection     `json:"direction"`
	Params    domain.TransportConnectParams `json:"params"`
}

type TransportConnectPayload struct {
	TransportID    domain.TransportID    `json:"transportId"`
	DtlsParameters domain.DtlsParameters `json:"dtlsParameters"`
}

type TransportConnectedPayload struct {
	TransportID domain.TransportID `json:"transportId"`
}

type ProducePayload struct {
	TransportID   domain.TransportID   `json:"transportId"`
	Kind          domain.MediaKind     `json:"kind"`
	RtpParameters domain.RtpParameters `json:"rtpParameters"`
	TrackType     domain.TrackType     `json:"trackType"`
}

type ProduceDonePayload struct {
	ProducerID domain.ProducerID `json:"producerId"`
	TrackType  domain.TrackType  `json:"trackType"`
}

type ConsumePayload struct {
	TransportID     domain.TransportID     `json:"transportId"`
	ProducerID      domain.ProducerID      `json:"producerId"`
	RtpCapabilities domain.RtpCapabilities `json:"rtpCapabilities"`
}

type ConsumerCreatedPayload struct {
	ConsumerID    domain.ConsumerID    `json:"consumerId"`
	ProducerID    domain.ProducerID    `json:"producerId"`
	Kind          domain.MediaKind     `json:"kind"`
	TrackType     domain.TrackType     `json:"trackType"`
	RtpParameters domain.RtpParameters `json:"rtpParameters"`
}

type ConsumerRefPayload struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

type ProducerRefPayload struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type ProducerEventPayload struct {
	ProducerID domain.ProducerID `json:"producerId"`
	UserID     domain.UserID     `json:"userId"`
	Kind       domain.MediaKind  `json:"kind,omitempty"`
	TrackType  domain.TrackType  `json:"trackType,omitempty"`
}

type ProducerClosedPayload struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
	ProducerID domain.ProducerID `json:"producerId"`
}

type ProducersListPayload struct {
	Producers []domain.ProducerInfo `json:"producers"`
}

type ParticipantEventPayload struct {
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId"`
	Role   domain.Role   `json:"role,omitempty"`
}

type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	OriginalType string `json:"originalType,omitempty"`
	Details      string `json:"details,omitempty"`
}

// newEnvelope wraps a payload for sending; marshal failures cannot happen for
// the payload types above.
func newEnvelope(msgType string, payload interface{}, correlationID string) Envelope {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	return Envelope{
		Type:          msgType,
		Payload:       raw,
		Timestamp:     time.Now().UnixMilli(),
		CorrelationID: correlationID,
	}
}
