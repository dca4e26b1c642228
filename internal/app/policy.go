package app

import "github.com/dkeye/Voice/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	}
	return "none"
}

// Policy decides what happens to a member whose send buffer is full.
type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

// SimplePolicy kicks slow members. They have to rejoin.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.RoomService, core.MemberSession) BackpressureAction {
	return KickMember
}

// DropPolicy drops the frame and keeps the member.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.RoomService, core.MemberSession) BackpressureAction {
	return DropFrame
}

// PolicyByName maps a config value to a Policy. Unknown names kick.
func PolicyByName(name string) Policy {
	if name == "drop" {
		return DropPolicy{}
	}
	return SimplePolicy{}
}
