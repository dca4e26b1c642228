package signal

import (
	"errors"

	"github.com/dkeye/Voice/internal/app/orch"
	"github.com/dkeye/Voice/internal/core"
	"github.com/dkeye/Voice/internal/domain"
	"github.com/rs/zerolog/log"
)

// handleJoin answers with joined on success. The orchestrator sends that
// confirmation itself so it precedes any routed message to the new member.
func (ctl *SignalWSController) handleJoin(sid core.SessionID, conn *WsSignalConn, msg domain.Message) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(msg.Room)).
		Str("requested", string(msg.ParticipantID)).Msg("join")
	if _, err := ctl.Orch.Join(sid, msg.Room, msg.ParticipantID); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join rejected")
		ctl.sendError(conn, joinErrorCode(err))
	}
}

// handleLeave leaves the current room. The connection stays open.
func (ctl *SignalWSController) handleLeave(sid core.SessionID) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.Orch.Leave(sid)
}

func (ctl *SignalWSController) handleForward(sid core.SessionID, conn *WsSignalConn, msg domain.Message) {
	err := ctl.Orch.Forward(sid, msg)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrUnknownParticipant):
		// The target may have just left; the sender learns it from participant-left too.
		log.Debug().Str("module", "signal").Str("sid", string(sid)).Str("to", string(msg.To)).Msg("forward to unknown participant")
		ctl.sendError(conn, "unknown_participant")
	case errors.Is(err, orch.ErrNotJoined):
		ctl.sendError(conn, "not_joined")
	default:
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("forward")
		ctl.sendError(conn, "bad_target")
	}
}

func joinErrorCode(err error) string {
	switch {
	case errors.Is(err, core.ErrParticipantIDTaken):
		return "participant_id_taken"
	case errors.Is(err, domain.ErrParticipantIDTooLong), errors.Is(err, domain.ErrParticipantIDInvalid):
		return "invalid_participant_id"
	case errors.Is(err, domain.ErrRoomIDEmpty):
		return "invalid_room"
	}
	return "join_failed"
}
