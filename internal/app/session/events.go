package session

import (
	"github.com/dkeye/Voice/internal/core"
	"github.com/dkeye/Voice/internal/domain"
)

// event is everything the session loop reacts to. Each one is handled to
// completion before the next is read.
type event interface {
	name() string
}

// signalEvent carries one message from the relay.
type signalEvent struct {
	msg domain.Message
}

// disconnectedEvent reports that the relay connection dropped.
type disconnectedEvent struct {
	err error
}

type localCandidateEvent struct {
	id   domain.ParticipantID
	gen  uint64
	cand domain.Candidate
}

type remoteTrackEvent struct {
	id    domain.ParticipantID
	gen   uint64
	track core.RemoteTrack
}

type transportStateEvent struct {
	id    domain.ParticipantID
	gen   uint64
	state core.TransportState
}

// offerCreatedEvent completes CreateOffer.
type offerCreatedEvent struct {
	id  domain.ParticipantID
	gen uint64
	sdp string
	err error
}

// answerCreatedEvent completes ApplyOffer.
type answerCreatedEvent struct {
	id  domain.ParticipantID
	gen uint64
	sdp string
	err error
}

// answerAppliedEvent completes ApplyAnswer.
type answerAppliedEvent struct {
	id  domain.ParticipantID
	gen uint64
	err error
}

// inspectEvent runs fn on the loop, for reads that must not race with it.
type inspectEvent struct {
	fn   func(*session)
	done chan struct{}
}

func (e signalEvent) name() string { return "signal:" + string(e.msg.Type) }
func (disconnectedEvent) name() string { return "disconnected" }
func (localCandidateEvent) name() string { return "local-candidate" }
func (remoteTrackEvent) name() string { return "remote-track" }
func (transportStateEvent) name() string { return "transport-state" }
func (offerCreatedEvent) name() string { return "offer-created" }
func (answerCreatedEvent) name() string { return "answer-created" }
func (answerAppliedEvent) name() string { return "answer-applied" }
func (inspectEvent) name() string { return "inspect" }
