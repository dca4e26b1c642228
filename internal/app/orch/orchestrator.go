// Package orch is the relay's membership and routing logic. It never looks
// inside session descriptions or candidates.
package orch

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/Voice/internal/app"
	"github.com/dkeye/Voice/internal/core"
	"github.com/dkeye/Voice/internal/domain"
	"github.com/dkeye/Voice/internal/observe"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotJoined   = errors.New("not joined to a room")
	ErrNotRouted   = errors.New("message type is not routed")
	ErrSelfTarget  = errors.New("cannot route to self")
	ErrUnknownConn = errors.New("unknown connection")
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Metrics  *observe.RelayMetrics

	// mu serializes membership changes so every member sees joins and
	// leaves in the same order.
	mu sync.Mutex
}

// Forward routes msg from the member behind sid to msg.To in the same room.
// The target receives it with From set to the sender and To cleared.
func (o *Orchestrator) Forward(sid core.SessionID, msg domain.Message) error {
	if !msg.Type.Routed() {
		return ErrNotRouted
	}
	ms, ok := o.Registry.MemberOf(sid)
	if !ok {
		return ErrNotJoined
	}
	self := ms.Meta()
	if msg.To == self.ID {
		return ErrSelfTarget
	}
	room, ok := o.Rooms.GetRoom(self.Room)
	if !ok {
		return ErrNotJoined
	}
	target, ok := room.Member(msg.To)
	if !ok {
		o.Metrics.Drop("unknown_target")
		return core.ErrUnknownParticipant
	}

	out := domain.Message{
		Type:      msg.Type,
		From:      self.ID,
		SDP:       msg.SDP,
		Candidate: msg.Candidate,
	}
	frame, err := encode(out)
	if err != nil {
		return err
	}
	if err := target.Signal().TrySend(frame); err != nil {
		o.onSlow(room, target, err)
		return nil
	}
	o.Metrics.Forward(string(msg.Type))
	return nil
}

// publish sends frame to everyone in room except from and applies the
// backpressure policy to whoever could not keep up.
func (o *Orchestrator) publish(room core.RoomService, from domain.ParticipantID, frame core.Frame) {
	res := room.Broadcast(from, frame)
	for _, slow := range res.Dropped {
		o.onSlow(room, slow, core.ErrBackpressure)
	}
}

func (o *Orchestrator) onSlow(room core.RoomService, member core.MemberSession, cause error) {
	if !errors.Is(cause, core.ErrBackpressure) {
		o.Metrics.Drop("closed")
		return
	}
	action := app.NoAction
	if o.Policy != nil {
		action = o.Policy.OnBackPressure(room, member)
	}
	log.Warn().Str("module", "orch").Str("room", string(room.Room().ID)).
		Str("participant", string(member.Meta().ID)).Str("action", action.String()).Msg("slow member")
	switch action {
	case app.KickMember:
		o.Metrics.Drop("kick")
		if sid, ok := o.Registry.SIDOf(member); ok {
			o.Registry.Cancel(sid)
		}
	case app.DropFrame, app.NoAction:
		o.Metrics.Drop("backpressure")
	}
}

func encode(msg domain.Message) (core.Frame, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}
