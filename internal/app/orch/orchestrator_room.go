package orch

import (
	"github.com/dkeye/Voice/internal/core"
	"github.com/dkeye/Voice/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join puts the connection sid into roomID under requested, or under a fresh
// id when requested is empty. A connection already in a room leaves it first.
// The joiner is sent its joined confirmation before anybody else hears of it.
func (o *Orchestrator) Join(sid core.SessionID, roomID domain.RoomID, requested domain.ParticipantID) (domain.ParticipantID, error) {
	if err := domain.ValidateParticipantID(requested); err != nil {
		return "", err
	}
	r, err := domain.NewRoom(roomID)
	if err != nil {
		return "", err
	}
	conn, ok := o.Registry.Signal(sid)
	if !ok {
		return "", ErrUnknownConn
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if ms, ok := o.Registry.ClearMember(sid); ok {
		o.leaveLocked(ms)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(ms.Meta().Room)).Msg("left previous room")
	}

	id := requested
	if id == "" {
		id = domain.NewParticipantID()
	}
	room := o.Rooms.GetOrCreate(r.ID)
	existing := room.Members()
	ms := core.NewMemberSession(domain.NewMember(id, r.ID), conn)
	if err := room.AddMember(ms); err != nil {
		o.Rooms.StopIfEmpty(r.ID)
		return "", err
	}
	o.Registry.BindMember(sid, ms)
	o.Metrics.Joined()
	o.Metrics.SetRooms(len(o.Rooms.List()))

	joined, err := encode(domain.Message{Type: domain.MsgJoined, Room: r.ID, ParticipantID: id, Participants: existing})
	if err != nil {
		return "", err
	}
	if err := conn.TrySend(joined); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("participant", string(id)).Msg("joined confirmation not delivered")
	}
	announce, err := encode(domain.Message{Type: domain.MsgParticipantJoined, ParticipantID: id})
	if err != nil {
		return "", err
	}
	o.publish(room, id, announce)

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(r.ID)).
		Str("participant", string(id)).Int("existing", len(existing)).Msg("added to room")
	return id, nil
}

// Leave removes sid from its room, if any, and tells the remaining members.
func (o *Orchestrator) Leave(sid core.SessionID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	ms, ok := o.Registry.ClearMember(sid)
	if !ok {
		return false
	}
	o.leaveLocked(ms)
	return true
}

func (o *Orchestrator) leaveLocked(ms core.MemberSession) {
	meta := ms.Meta()
	room, ok := o.Rooms.GetRoom(meta.Room)
	if !ok {
		return
	}
	if !room.RemoveMember(meta.ID) {
		return
	}
	o.Metrics.Left()
	if frame, err := encode(domain.Message{Type: domain.MsgParticipantLeft, ParticipantID: meta.ID}); err == nil {
		o.publish(room, meta.ID, frame)
	}
	o.Rooms.StopIfEmpty(meta.Room)
	o.Metrics.SetRooms(len(o.Rooms.List()))
	log.Info().Str("module", "orch").Str("room", string(meta.Room)).Str("participant", string(meta.ID)).Msg("removed from room")
}

// Disconnect is the end of a connection: leave the room and forget it.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	o.Leave(sid)
	o.Registry.Unbind(sid)
}

// KickBySID closes the connection behind sid. Its own disconnect path does
// the room cleanup.
func (o *Orchestrator) KickBySID(sid core.SessionID) bool {
	return o.Registry.Cancel(sid)
}

// EvictRoom kicks every member of the room.
func (o *Orchestrator) EvictRoom(id domain.RoomID) {
	room, ok := o.Rooms.GetRoom(id)
	if !ok {
		return
	}
	for _, pid := range room.Members() {
		if ms, ok := room.Member(pid); ok {
			if sid, ok := o.Registry.SIDOf(ms); ok {
				o.KickBySID(sid)
			}
		}
	}
}
