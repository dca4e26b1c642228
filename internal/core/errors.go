package core

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied = errors.New("media permission denied")
	ErrNoDevice         = errors.New("no capture device")
	ErrDeviceBusy       = errors.New("capture device busy")

	ErrParticipantIDTaken = errors.New("participant id already in room")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrBackpressure       = errors.New("backpressure")
	ErrChannelClosed      = errors.New("signal channel closed")
	ErrJoinRejected       = errors.New("join rejected by relay")

	ErrAlreadyJoined = errors.New("session already started")
	ErrJoinAborted   = errors.New("join aborted by leave")
)

// DeviceError reports a failed local media acquisition.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string { return fmt.Sprintf("device: %v", e.Err) }
func (e *DeviceError) Unwrap() error { return e.Err }

// ConnectionError reports an unreachable relay or a rejected room join.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("connection: %v", e.Err)
	}
	return fmt.Sprintf("connection to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NegotiationFailure is logged and counted per link. It is never returned
// to the caller of Join.
type NegotiationFailure struct {
	Participant string
	Attempts    int
	Err         error
}

func (e *NegotiationFailure) Error() string {
	return fmt.Sprintf("negotiation with %s failed after %d attempt(s): %v", e.Participant, e.Attempts, e.Err)
}

func (e *NegotiationFailure) Unwrap() error { return e.Err }
