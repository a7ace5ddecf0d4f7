package domain

import "errors"

var (
	ErrNotInRoom               = errors.New("not joined to a room")
	ErrRoomFull                = errors.New("room is full")
	ErrRoomNotFound            = errors.New("room not found")
	ErrInvalidMessage          = errors.New("invalid message")
	ErrRouterNotFound          = errors.New("router not found")
	ErrTransportNotFound       = errors.New("transport not found")
	ErrWrongTransportDirection = errors.New("wrong transport direction")
	ErrProducerNotFound        = errors.New("producer not found")
	ErrConsumerNotFound        = errors.New("consumer not found")
	ErrIncompatibleCodec       = errors.New("viewer capabilities cannot consume producer")
	ErrNoWorkersAvailable      = errors.New("no media workers available")
	ErrTransportCreateFailed   = errors.New("transport create failed")
	ErrProduceFailed           = errors.New("produce failed")
	ErrConsumeFailed           = errors.New("consume failed")
)

// Stable machine-readable error codes surfaced to signaling clients.
const (
	CodeNotInRoom               = "NotInRoom"
	CodeRoomFull                = "RoomFull"
	CodeRoomNotFound            = "RoomNotFound"
	CodeInvalidMessage          = "InvalidMessage"
	CodeRouterNotFound          = "RouterNotFound"
	CodeTransportNotFound       = "TransportNotFound"
	CodeWrongTransportDirection = "WrongTransportDirection"
	CodeProducerNotFound        = "ProducerNotFound"
	CodeConsumerNotFound        = "ConsumerNotFound"
	CodeIncompatibleCodec       = "IncompatibleCodec"
	CodeNoWorkersAvailable      = "NoWorkersAvailable"
	CodeTransportCreateFailed   = "TransportCreateFailed"
	CodeProduceFailed           = "ProduceFailed"
	CodeConsumeFailed           = "ConsumeFailed"
	CodeInternal                = "Internal"
)

var errorCodes = map[error]string{
	ErrNotInRoom:               CodeNotInRoom,
	ErrRoomFull:                CodeRoomFull,
	ErrRoomNotFound:            CodeRoomNotFound,
	ErrInvalidMessage:          CodeInvalidMessage,
	ErrRouterNotFound:          CodeRouterNotFound,
	ErrTransportNotFound:       CodeTransportNotFound,
	ErrWrongTransportDirection: CodeWrongTransportDirection,
	ErrProducerNotFound:        CodeProducerNotFound,
	ErrConsumerNotFound:        CodeConsumerNotFound,
	ErrIncompatibleCodec:       CodeIncompatibleCodec,
	ErrNoWorkersAvailable:      CodeNoWorkersAvailable,
	ErrTransportCreateFailed:   CodeTransportCreateFailed,
	ErrProduceFailed:           CodeProduceFailed,
	ErrConsumeFailed:           CodeConsumeFailed,
}

// CodeOf maps an error chain to its wire code. Unknown errors map to Internal
// so internals never leak to clients.
func CodeOf(err error) string {
	for sentinel, code := range errorCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeInternal
}
