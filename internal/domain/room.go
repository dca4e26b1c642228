package domain

import "errors"

const MaxRoomIDLen = 64

var ErrRoomIDEmpty = errors.New("room id empty")

type RoomID string

type Room struct {
	ID RoomID
}

func NewRoom(id RoomID) (*Room, error) {
	if id == "" {
		return nil, ErrRoomIDEmpty
	}
	if len(id) > MaxRoomIDLen {
		id = id[:MaxRoomIDLen]
	}
	return &Room{ID: id}, nil
}
