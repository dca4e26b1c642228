package session

import (
	"github.com/dkeye/Voice/internal/core"
	"github.com/dkeye/Voice/internal/domain"
)

type LinkState int

const (
	LinkNew LinkState = iota
	LinkOffering
	LinkAwaitingAnswer
	LinkConnected
	LinkFailed
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkOffering:
		return "offering"
	case LinkAwaitingAnswer:
		return "awaiting-answer"
	case LinkConnected:
		return "connected"
	case LinkFailed:
		return "failed"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

// RemoteStream is everything one remote participant sends us.
type RemoteStream struct {
	Participant domain.ParticipantID
	Tracks      []core.RemoteTrack
}

// PeerLink is the negotiation state towards one remote participant.
// It is only touched from the session's event loop; the pool owns it.
type PeerLink struct {
	id     domain.ParticipantID
	polite bool

	// gen changes every time the transport is replaced. Callbacks and async
	// results carry the gen they were started for.
	gen       uint64
	state     LinkState
	transport core.PeerTransport

	// busy is set while a description step runs off the loop.
	busy      bool
	remoteSet bool
	pending   []domain.Candidate
	// outbox holds local candidates gathered before our offer went out.
	outbox    []domain.Candidate
	tracks    []core.RemoteTrack
	attempts  int
}

func (l *PeerLink) ID() domain.ParticipantID { return l.id }
func (l *PeerLink) State() LinkState         { return l.state }

// Polite reports whether this side yields on offer collision. The side
// with the lexicographically larger id is polite.
func (l *PeerLink) Polite() bool { return l.polite }

func (l *PeerLink) stream() *RemoteStream {
	if len(l.tracks) == 0 {
		return nil
	}
	return &RemoteStream{Participant: l.id, Tracks: append([]core.RemoteTrack(nil), l.tracks...)}
}
