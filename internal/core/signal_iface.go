package core

import (
	"context"

	"github.com/dkeye/Voice/internal/domain"
)

// Frame is a raw binary payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalChannel is the client side of the relay link.
//
// Messages sent to the same target are delivered in send order. The
// disconnect handler fires at most once, for any transport drop that was
// not requested through Disconnect. The channel never reconnects on its own.
type SignalChannel interface {
	Connect(ctx context.Context, endpoint string) error
	JoinRoom(ctx context.Context, room domain.RoomID, self domain.ParticipantID) error
	Send(msg domain.Message, to domain.ParticipantID) error
	OnMessage(func(domain.Message))
	OnDisconnect(func(error))
	Disconnect()
}
