package domain

// RtpCodecCapability describes one codec a router can route.
type RtpCodecCapability struct {
	Kind       MediaKind              `json:"kind"`
	MimeType   string                 `json:"mimeType"`
	ClockRate  int                    `json:"clockRate"`
	Channels   int                    `json:"channels,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// RtpCapabilities is the codec list a router supports, or a viewer declares
// it can receive. Negotiated once per router and fixed for its lifetime.
type RtpCapabilities struct {
	Codecs []RtpCodecCapability `json:"codecs"`
}

// RtpEncodingParameters describes a single encoding (simulcast layer).
type RtpEncodingParameters struct {
	Rid        string `json:"rid,omitempty"`
	SSRC       uint32 `json:"ssrc,omitempty"`
	MaxBitrate int    `json:"maxBitrate,omitempty"`
}

// RtpParameters carries the encoding description of a produced or consumed track.
type RtpParameters struct {
	MimeType  string                  `json:"mimeType"`
	ClockRate int                     `json:"clockRate"`
	Channels  int                     `json:"channels,omitempty"`
	Encodings []RtpEncodingParameters `json:"encodings,omitempty"`
}

// DtlsFingerprint is one certificate fingerprint of a transport endpoint.
type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// DtlsParameters is the security material exchanged at transport connect time.
type DtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

// IceCandidate is one local candidate advertised to the client.
type IceCandidate struct {
	Foundation string `json:"foundation"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	Protocol   string `json:"protocol"`
	Type       string `json:"type"`
	Priority   uint32 `json:"priority"`
}

// IceParameters is the local ICE material of a transport.
type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

// TransportConnectParams is everything a client needs to connect a transport:
// the transport id plus the opaque network and security material.
type TransportConnectParams struct {
	ID             TransportID    `json:"id"`
	IceParameters  IceParameters  `json:"iceParameters"`
	IceCandidates  []IceCandidate `json:"iceCandidates"`
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
}

// DefaultMediaCodecs returns the codec set routers are created with:
// Opus for audio, VP8 and H264 for webcam and screen video.
func DefaultMediaCodecs() []RtpCodecCapability {
	return []RtpCodecCapability{
		{
			Kind:      MediaKindAudio,
			MimeType:  "audio/opus",
			ClockRate: 48000,
			Channels:  2,
		},
		{
			Kind:      MediaKindVideo,
			MimeType:  "video/VP8",
			ClockRate: 90000,
		},
		{
			Kind:      MediaKindVideo,
			MimeType:  "video/H264",
			ClockRate: 90000,
			Parameters: map[string]interface{}{
				"packetization-mode":      1,
				"profile-level-id":        "42e01f",
				"level-asymmetry-allowed": 1,
			},
		},
	}
}
