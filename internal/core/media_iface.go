package core

import (
	"context"

	"github.com/dkeye/Voice/internal/domain"
	"github.com/pion/webrtc/v4"
)

type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportNew:
		return "new"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// RemoteTrack is the read side of an incoming media track.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// PeerTransport is one negotiation connection to exactly one remote participant.
// Description methods may block while the underlying stack works; callers
// run them off the event loop.
type PeerTransport interface {
	// CreateOffer generates a local offer, sets it as local description and returns its SDP.
	CreateOffer() (string, error)
	// ApplyOffer sets a remote offer and returns the SDP of the local answer.
	ApplyOffer(sdp string) (string, error)
	// ApplyAnswer sets a remote answer.
	ApplyAnswer(sdp string) error
	// AddICECandidate applies a remote ICE candidate. Only valid once a
	// remote description is set.
	AddICECandidate(domain.Candidate) error
	// AddLocalTrack attaches a shared local track. The transport never owns it.
	AddLocalTrack(webrtc.TrackLocal) error

	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(domain.Candidate))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(RemoteTrack))
	// OnStateChange reports connectivity changes.
	OnStateChange(func(TransportState))

	// Close should stop all underlying network resources. Idempotent.
	Close() error
}

// TransportFactory creates a fresh transport for a remote participant.
type TransportFactory func(id domain.ParticipantID) (PeerTransport, error)

// Constraints selects which kinds of local capture a session wants.
type Constraints struct {
	Audio bool
	Video bool
}

// MediaDevice is the hardware (or synthetic) capture source.
type MediaDevice interface {
	// Open starts capture and returns one track per requested kind.
	Open(ctx context.Context, c Constraints) ([]webrtc.TrackLocal, error)
	// Close stops capture. Safe to call when not open.
	Close() error
}
