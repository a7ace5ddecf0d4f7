package ports

import (
	"context"

	"proctorsfu/internal/core/domain"
)

// WorkerSettings configures a single media worker process.
type WorkerSettings struct {
	RtcMinPort  uint16
	RtcMaxPort  uint16
	ListenIP    string
	AnnouncedIP string
}

// WebRtcTransportOptions configures a transport created on a router.
type WebRtcTransportOptions struct {
	ListenIP    string
	AnnouncedIP string
}

// MediaEngine is the boundary to the native media engine. The control plane
// orchestrates workers, routers, transports, producers and consumers through
// these handles; it never touches RTP, ICE or DTLS itself.
//
// Close cascades down the handle tree: closing a worker closes its routers,
// closing a router closes its transports, closing a transport closes its
// producers and consumers. Every handle fires its close event exactly once.
type MediaEngine interface {
	CreateWorker(ctx context.Context, settings WorkerSettings) (Worker, error)
}

// Worker is a handle to one media-processing OS process.
type Worker interface {
	PID() int
	CreateRouter(ctx context.Context, mediaCodecs []domain.RtpCodecCapability) (Router, error)
	// OnDied registers a callback fired if the underlying process exits
	// unexpectedly. Not fired on a clean Close.
	OnDied(fn func(err error))
	Close() error
}

// Router routes media between the transports created on it.
type Router interface {
	ID() string
	RtpCapabilities() domain.RtpCapabilities
	CreateWebRtcTransport(ctx context.Context, opts WebRtcTransportOptions) (Transport, error)
	// CanConsume reports whether a producer on this router can be consumed
	// with the given receiving capabilities.
	CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool
	Close() error
}

// Transport is one network transport of a peer.
type Transport interface {
	ID() domain.TransportID
	ConnectParams() domain.TransportConnectParams
	// Connect completes the DTLS handshake with the remote parameters.
	Connect(ctx context.Context, dtls domain.DtlsParameters) error
	Produce(ctx context.Context, kind domain.MediaKind, params domain.RtpParameters) (Producer, error)
	// Consume creates a consumer for the given producer. The consumer is
	// created paused.
	Consume(ctx context.Context, producerID domain.ProducerID, caps domain.RtpCapabilities) (Consumer, error)
	OnClosed(fn func())
	Close() error
}

// Producer is a handle to one inbound-to-engine media track.
type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	OnClosed(fn func())
	Close() error
}

// Consumer is a handle to one outbound-from-engine media track.
type Consumer interface {
	ID() domain.ConsumerID
	ProducerID() domain.ProducerID
	Kind() domain.MediaKind
	RtpParameters() domain.RtpParameters
	Paused() bool
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	// SetPreferredLayers selects simulcast layers; a no-op when the producer
	// has no layered encoding.
	SetPreferredLayers(ctx context.Context, spatial, temporal int) error
	RequestKeyFrame(ctx context.Context) error
	OnClosed(fn func())
	// OnProducerClosed registers a callback fired when the source producer
	// closes out from under the consumer. It fires instead of OnClosed so
	// callers can distinguish "producer gone" from an ordinary close.
	OnProducerClosed(fn func())
	Close() error
}
