package core

import (
	"github.com/dkeye/Voice/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// RoomService is the core-facing API of a relay room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	Members() []domain.ParticipantID
	Member(id domain.ParticipantID) (MemberSession, bool)

	// AddMember fails with ErrParticipantIDTaken if id is already present.
	AddMember(ms MemberSession) error
	RemoveMember(id domain.ParticipantID) bool
	Broadcast(from domain.ParticipantID, data Frame) PublishResult
	SendTo(to domain.ParticipantID, data Frame) error
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	GetRoom(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	// StopIfEmpty drops the room when nobody is left in it.
	StopIfEmpty(id domain.RoomID)
}
